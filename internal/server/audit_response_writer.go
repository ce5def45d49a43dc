package server

import (
	"bytes"
	"net/http"
)

// maxCapturedBody caps how much of a response body an audit entry carries.
// Order listings can be large; audit only needs the head.
const maxCapturedBody = 64 << 10

// responseRecorder captures the status code and a bounded prefix of the
// body while passing everything through to the client.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{
		ResponseWriter: w,
		status:         http.StatusOK,
	}
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if remaining := maxCapturedBody - r.body.Len(); remaining > 0 {
		if remaining > len(b) {
			remaining = len(b)
		}
		r.body.Write(b[:remaining])
	}
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) Status() int {
	return r.status
}

func (r *responseRecorder) Body() []byte {
	return r.body.Bytes()
}
