package http

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// acceptEncoding is sent on every request; bodies are decoded here rather
// than by net/http so that br and zstd are covered too.
const acceptEncoding = "gzip, deflate, br, zstd"

// decodeBody undoes Content-Encoding. Encodings are applied in listed order,
// so they are removed in reverse.
func decodeBody(raw []byte, contentEncoding string) ([]byte, error) {
	if len(raw) == 0 || contentEncoding == "" {
		return raw, nil
	}

	encodings := strings.Split(contentEncoding, ",")
	body := raw
	for i := len(encodings) - 1; i >= 0; i-- {
		enc := strings.ToLower(strings.TrimSpace(encodings[i]))
		var err error
		body, err = decodeOne(body, enc)
		if err != nil {
			return nil, fmt.Errorf("decoding %s body: %w", enc, err)
		}
	}
	return body, nil
}

func decodeOne(body []byte, enc string) ([]byte, error) {
	var r io.Reader
	switch enc {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case "deflate":
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case "br":
		r = brotli.NewReader(bytes.NewReader(body))
	case "zstd":
		zr, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", enc)
	}
	return io.ReadAll(r)
}
