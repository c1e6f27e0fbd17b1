package middleware

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
)

var errHijackUnsupported = errors.New("hijacking is not supported while the response is captured")

// captureWriter buffers everything the handler writes. Headers go straight
// to the wrapped writer's header map; they are only sent once the capture
// is forwarded.
type captureWriter struct {
	gin.ResponseWriter
	body    bytes.Buffer
	status  int
	written bool
}

func (w *captureWriter) WriteHeader(code int) {
	if code > 0 && !w.written {
		w.status = code
	}
}

func (w *captureWriter) WriteHeaderNow() {
	w.written = true
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.body.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.written = true
	return w.body.WriteString(s)
}

func (w *captureWriter) Status() int {
	return w.status
}

func (w *captureWriter) Size() int {
	if !w.written {
		return -1
	}
	return w.body.Len()
}

func (w *captureWriter) Written() bool {
	return w.written
}

// Flush is a no-op; the body is sent when the capture ends.
func (w *captureWriter) Flush() {}

func (w *captureWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return nil, nil, errHijackUnsupported
}

func (w *captureWriter) Pusher() http.Pusher {
	return nil
}

// capturedResponse is what the handler produced
type capturedResponse struct {
	Status  int
	Header  http.Header
	Body    []byte
	Written bool
}

// captureResponse runs the rest of the handler chain against a captureWriter.
// The original writer is restored and the captured output forwarded to it on
// every exit path, including a panic unwinding through c.Next.
func captureResponse(c *gin.Context) (res capturedResponse) {
	original := c.Writer
	cw := &captureWriter{ResponseWriter: original, status: http.StatusOK}
	c.Writer = cw

	defer func() {
		c.Writer = original
		original.WriteHeader(cw.status)
		if cw.written {
			original.WriteHeaderNow()
			if cw.body.Len() > 0 {
				_, _ = original.Write(cw.body.Bytes())
			}
		}
		res = capturedResponse{
			Status:  cw.status,
			Header:  original.Header().Clone(),
			Body:    cw.body.Bytes(),
			Written: cw.written,
		}
	}()

	c.Next()
	return res
}
