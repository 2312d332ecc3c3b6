package stream

import "net/http"

// SetHeaders sets the response headers every SSE reply needs, matching
// what each of the four wire formats expects on the way out.
func SetHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Flusher asserts http.Flusher on w and returns a no-op flush function if
// the underlying ResponseWriter doesn't support it (tests using
// httptest.NewRecorder still implement it, but defensive code elsewhere
// might not).
func Flusher(w http.ResponseWriter) func() {
	if f, ok := w.(http.Flusher); ok {
		return f.Flush
	}
	return func() {}
}
