package capture

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = `{"items":[{"sku":"A-1","qty":2}],"total":"19.90"}`

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func brotliBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zlibBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDecodeBodyGzip(t *testing.T) {
	out, err := decodeBody(gzipBytes(t, []byte(payload)), "gzip")
	require.NoError(t, err)
	assert.Equal(t, payload, string(out))
}

func TestDecodeBodyBrotli(t *testing.T) {
	out, err := decodeBody(brotliBytes(t, []byte(payload)), "br")
	require.NoError(t, err)
	assert.Equal(t, payload, string(out))
}

func TestDecodeBodyDeflateZlib(t *testing.T) {
	out, err := decodeBody(zlibBytes(t, []byte(payload)), "deflate")
	require.NoError(t, err)
	assert.Equal(t, payload, string(out))
}

func TestDecodeBodyLayered(t *testing.T) {
	// br applied first, then gzip on top; unwinding must run gzip first.
	layered := gzipBytes(t, brotliBytes(t, []byte(payload)))
	out, err := decodeBody(layered, "br, gzip")
	require.NoError(t, err)
	assert.Equal(t, payload, string(out))
}

func TestDecodeBodyIdentity(t *testing.T) {
	out, err := decodeBody([]byte(payload), "")
	require.NoError(t, err)
	assert.Equal(t, payload, string(out))

	out, err = decodeBody([]byte(payload), "identity")
	require.NoError(t, err)
	assert.Equal(t, payload, string(out))
}

func TestDecodeBodyUnknownEncoding(t *testing.T) {
	_, err := decodeBody([]byte(payload), "zstd")
	assert.ErrorContains(t, err, "unsupported Content-Encoding")
}

func TestDecodeBodyCorruptStream(t *testing.T) {
	_, err := decodeBody([]byte("definitely not gzip"), "gzip")
	assert.Error(t, err)
}
