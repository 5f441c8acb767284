// Package capture runs a local HTTP proxy that records browser traffic into
// an HTTP Archive. The browser manager points Chrome at the proxy address;
// everything that flows through is decoded and kept until the run exports
// the archive as an attachment.
package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/elazarl/goproxy"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/nhantruonghcmut/uitf/api/schemas"
	"github.com/nhantruonghcmut/uitf/internal/config"
)

// ctxKey for stashing the request start time on the goproxy context.
type entryTiming struct {
	started time.Time
	reqBody []byte
}

// Recorder is a recording proxy. One Recorder serves every worker of a run;
// the entry list is mutex-guarded.
type Recorder struct {
	cfg    config.CaptureConfig
	logger *zap.Logger

	proxy    *goproxy.ProxyHttpServer
	server   *http.Server
	listener net.Listener

	mu      sync.Mutex
	entries []schemas.HAREntry
}

// NewRecorder builds the proxy. Start must be called before wiring the
// address into the browser.
func NewRecorder(cfg config.CaptureConfig, logger *zap.Logger) *Recorder {
	r := &Recorder{
		cfg:    cfg,
		logger: logger.Named("capture"),
		proxy:  goproxy.NewProxyHttpServer(),
	}

	// MITM every CONNECT so HTTPS bodies are visible. The browser is started
	// with certificate errors ignored, so goproxy's built-in CA suffices.
	r.proxy.OnRequest().HandleConnect(goproxy.AlwaysMitm)
	r.proxy.OnRequest().DoFunc(r.handleRequest)
	r.proxy.OnResponse().DoFunc(r.handleResponse)
	return r
}

// Start binds the proxy to cfg.Addr (":0" picks a free port) and serves in
// the background. Returns the address the browser should use.
func (r *Recorder) Start() (string, error) {
	addr := r.cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to bind capture proxy: %w", err)
	}
	r.listener = ln
	r.server = &http.Server{Handler: r.proxy}

	go func() {
		if err := r.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			r.logger.Error("Capture proxy serve error.", zap.Error(err))
		}
	}()

	r.logger.Info("Capture proxy listening.", zap.String("addr", ln.Addr().String()))
	return ln.Addr().String(), nil
}

// Stop shuts the proxy down.
func (r *Recorder) Stop(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}

// replayBody hands already-consumed bytes back to the peer ahead of the
// unread remainder, keeping the original body's Close.
type replayBody struct {
	io.Reader
	io.Closer
}

func (r *Recorder) handleRequest(req *http.Request, pctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	timing := &entryTiming{started: time.Now()}

	if r.cfg.CaptureBodies && req.Body != nil && req.ContentLength != 0 {
		// Read one byte past the cap to tell "at the cap" from "over it";
		// chunked requests report ContentLength -1 so the length header
		// cannot be trusted here.
		limit := r.maxBody()
		body, err := io.ReadAll(io.LimitReader(req.Body, limit+1))
		req.Body = replayBody{io.MultiReader(bytes.NewReader(body), req.Body), req.Body}
		if err == nil && int64(len(body)) <= limit {
			timing.reqBody = body
		}
	}
	pctx.UserData = timing
	return req, nil
}

func (r *Recorder) handleResponse(resp *http.Response, pctx *goproxy.ProxyCtx) *http.Response {
	if resp == nil || pctx.Req == nil {
		return resp
	}
	timing, _ := pctx.UserData.(*entryTiming)
	if timing == nil {
		timing = &entryTiming{started: time.Now()}
	}

	entry := schemas.HAREntry{
		StartedDateTime: timing.started,
		Time:            float64(time.Since(timing.started)) / float64(time.Millisecond),
		Request:         buildRequest(pctx.Req, timing.reqBody),
		Response:        r.buildResponse(resp),
		Timings: schemas.HARTimings{
			Blocked: -1, DNS: -1, Connect: -1, SSL: -1,
			Send: 0, Wait: float64(time.Since(timing.started)) / float64(time.Millisecond), Receive: 0,
		},
	}

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	return resp
}

func buildRequest(req *http.Request, body []byte) schemas.HARRequest {
	out := schemas.HARRequest{
		Method:      req.Method,
		URL:         req.URL.String(),
		HTTPVersion: req.Proto,
		Headers:     toNVPairs(req.Header),
		HeadersSize: -1,
		BodySize:    int64(len(body)),
	}
	for name, values := range req.URL.Query() {
		for _, v := range values {
			out.QueryString = append(out.QueryString, schemas.HARNVPair{Name: name, Value: v})
		}
	}
	if len(body) > 0 {
		out.PostData = &schemas.HARPostData{
			MimeType: req.Header.Get("Content-Type"),
			Text:     string(body),
		}
	}
	return out
}

func (r *Recorder) buildResponse(resp *http.Response) schemas.HARResponse {
	out := schemas.HARResponse{
		Status:      resp.StatusCode,
		StatusText:  http.StatusText(resp.StatusCode),
		HTTPVersion: resp.Proto,
		Headers:     toNVPairs(resp.Header),
		RedirectURL: resp.Header.Get("Location"),
		HeadersSize: -1,
		BodySize:    resp.ContentLength,
	}

	if resp.Body == nil || !r.cfg.CaptureBodies {
		return out
	}
	limit := r.maxBody()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	// Splice the consumed prefix back in front of whatever was not read so
	// the browser always sees the full stream.
	resp.Body = replayBody{io.MultiReader(bytes.NewReader(raw), resp.Body), resp.Body}
	if err != nil {
		r.logger.Warn("Failed to read response body for archive.", zap.Error(err))
		return out
	}
	if int64(len(raw)) > limit {
		// Oversized bodies are forwarded whole but left out of the archive.
		return out
	}

	decoded, err := decodeBody(raw, resp.Header.Get("Content-Encoding"))
	if err != nil {
		r.logger.Debug("Could not decode response body, archiving raw.", zap.Error(err))
		decoded = raw
	}

	out.Content = schemas.HARContent{
		Size:     int64(len(decoded)),
		MimeType: resp.Header.Get("Content-Type"),
	}
	if utf8.Valid(decoded) && isTextual(out.Content.MimeType) {
		out.Content.Text = string(decoded)
	} else {
		out.Content.Text = base64.StdEncoding.EncodeToString(decoded)
		out.Content.Encoding = "base64"
	}
	return out
}

// Export snapshots the recorded entries into a complete archive.
func (r *Recorder) Export() *schemas.HAR {
	r.mu.Lock()
	defer r.mu.Unlock()

	har := schemas.NewHAR()
	har.Log.Entries = append(har.Log.Entries, r.entries...)
	return har
}

// ExportJSON marshals the archive for attachment.
func (r *Recorder) ExportJSON() ([]byte, error) {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(r.Export(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal HTTP archive: %w", err)
	}
	return data, nil
}

// WriteFile exports the archive to disk.
func (r *Recorder) WriteFile(path string) error {
	data, err := r.ExportJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write HTTP archive: %w", err)
	}
	return nil
}

// Reset drops recorded entries. Called between test cases when per-case
// archives are wanted.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}

// EntryCount reports how many exchanges have been recorded.
func (r *Recorder) EntryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Recorder) maxBody() int64 {
	if !r.cfg.CaptureBodies {
		return 0
	}
	if r.cfg.MaxBodySize > 0 {
		return r.cfg.MaxBodySize
	}
	return 1 << 20
}

func toNVPairs(h http.Header) []schemas.HARNVPair {
	pairs := make([]schemas.HARNVPair, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			pairs = append(pairs, schemas.HARNVPair{Name: name, Value: v})
		}
	}
	return pairs
}

func isTextual(mime string) bool {
	mime = strings.ToLower(mime)
	if strings.HasPrefix(mime, "text/") {
		return true
	}
	for _, t := range []string{"json", "javascript", "xml", "x-www-form-urlencoded", "svg"} {
		if strings.Contains(mime, t) {
			return true
		}
	}
	return false
}
