package proxy

import (
	"io"
	"net/http"
)

// streamBufferSize is the copy buffer for response streaming.
const streamBufferSize = 32 * 1024

// WriteResponse streams an upstream (or filter-produced) response to the
// client, flushing after every chunk so streaming upstreams stay live.
func WriteResponse(w http.ResponseWriter, resp *http.Response) error {
	defer resp.Body.Close()

	header := w.Header()
	for key, values := range resp.Header {
		for _, value := range values {
			header.Add(key, value)
		}
	}

	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, streamBufferSize)

	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
