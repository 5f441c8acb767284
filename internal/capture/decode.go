package capture

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// decodeBody undoes the Content-Encoding layers applied to a captured
// response body so HAR entries carry readable text. Encodings are listed in
// application order, so they are unwound in reverse.
func decodeBody(data []byte, contentEncoding string) ([]byte, error) {
	if contentEncoding == "" || len(data) == 0 {
		return data, nil
	}

	layers := strings.Split(contentEncoding, ",")
	for i := len(layers) - 1; i >= 0; i-- {
		encoding := strings.ToLower(strings.TrimSpace(layers[i]))

		var reader io.Reader
		switch encoding {
		case "gzip":
			zr, err := gzip.NewReader(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("gzip decode: %w", err)
			}
			reader = zr
		case "deflate":
			// Servers send both zlib-wrapped and raw deflate under this
			// name; try zlib first, fall back to raw.
			zr, err := zlib.NewReader(bytes.NewReader(data))
			if err != nil {
				reader = flate.NewReader(bytes.NewReader(data))
			} else {
				reader = zr
			}
		case "br":
			reader = brotli.NewReader(bytes.NewReader(data))
		case "identity", "":
			continue
		default:
			return nil, fmt.Errorf("unsupported Content-Encoding layer: %s", encoding)
		}

		decoded, err := io.ReadAll(reader)
		if c, ok := reader.(io.Closer); ok {
			_ = c.Close()
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s layer: %w", encoding, err)
		}
		data = decoded
	}
	return data, nil
}
