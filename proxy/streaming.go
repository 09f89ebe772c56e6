package proxy

import (
	"io"
	"net/http"
)

// StreamResponse copies body to w, flushing after every read so server
// sent events reach the browser without buffering. It returns nil once body
// is drained and the first read or write error otherwise.
func StreamResponse(w http.ResponseWriter, body io.Reader) error {
	flusher, canFlush := w.(http.Flusher)
	buf := make([]byte, 32*1024)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			if canFlush {
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
