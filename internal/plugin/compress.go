package plugin

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"strings"
)

// TypeCompress is the type tag for the response compression filter.
const TypeCompress = "compress"

// defaultCompressibleTypes are content type prefixes worth compressing.
var defaultCompressibleTypes = []string{
	"text/",
	"application/json",
	"application/javascript",
	"application/xml",
	"image/svg+xml",
}

// CompressFilter gzip-compresses upstream responses when the client
// negotiated it. Recognized options: level, min_size, content_types.
type CompressFilter struct {
	level        int
	minSize      int64
	contentTypes []string
}

// NewCompressFilter builds a compression filter from configuration.
func NewCompressFilter(cfg map[string]any, _ Deps) (Filter, error) {
	level, err := optInt64(cfg, "level", int64(gzip.DefaultCompression))
	if err != nil {
		return nil, err
	}

	minSize, err := optInt64(cfg, "min_size", 1024)
	if err != nil {
		return nil, err
	}

	types, err := optStringSlice(cfg, "content_types")
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		types = defaultCompressibleTypes
	}

	return &CompressFilter{
		level:        int(level),
		minSize:      minSize,
		contentTypes: types,
	}, nil
}

// Name implements Filter.
func (f *CompressFilter) Name() string {
	return TypeCompress
}

// OnRequest implements Filter.
func (f *CompressFilter) OnRequest(_ context.Context, _ *RequestContext) (*ShortCircuit, error) {
	return nil, nil
}

// OnResponse implements Filter. The body is compressed through a pipe so
// streaming responses stay streaming.
func (f *CompressFilter) OnResponse(_ context.Context, rc *RequestContext, resp *http.Response) (*ShortCircuit, error) {
	if !f.shouldCompress(rc.Request, resp) {
		return nil, nil
	}

	orig := resp.Body
	pr, pw := io.Pipe()

	go func() {
		gz, err := gzip.NewWriterLevel(pw, f.level)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(gz, orig); err != nil {
			_ = gz.Close()
			pw.CloseWithError(err)
			return
		}
		if err := gz.Close(); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()

	resp.Body = &compressedBody{reader: pr, orig: orig}
	resp.Header.Set("Content-Encoding", "gzip")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Header.Add("Vary", "Accept-Encoding")

	return nil, nil
}

func (f *CompressFilter) shouldCompress(req *http.Request, resp *http.Response) bool {
	if !strings.Contains(req.Header.Get("Accept-Encoding"), "gzip") {
		return false
	}
	if resp.Header.Get("Content-Encoding") != "" {
		return false
	}
	if resp.ContentLength >= 0 && resp.ContentLength < f.minSize {
		return false
	}

	contentType := resp.Header.Get("Content-Type")
	for _, t := range f.contentTypes {
		if strings.HasPrefix(contentType, t) {
			return true
		}
	}
	return false
}

// compressedBody closes both ends of the compression pipe.
type compressedBody struct {
	reader io.ReadCloser
	orig   io.ReadCloser
}

func (b *compressedBody) Read(p []byte) (int, error) {
	return b.reader.Read(p)
}

func (b *compressedBody) Close() error {
	_ = b.reader.Close()
	return b.orig.Close()
}
