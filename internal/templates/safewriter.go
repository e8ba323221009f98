package templates

import "net/http"

// SafeWriter sends headers exactly once, with the HTML content type and the
// status chosen before the first write
type SafeWriter struct {
	w          http.ResponseWriter
	statusCode int
	written    bool
}

// NewSafeWriter wraps w
func (t *Templates) NewSafeWriter(w http.ResponseWriter) *SafeWriter {
	return &SafeWriter{w: w, statusCode: http.StatusOK}
}

// SetStatusCode selects the status sent with the headers
func (s *SafeWriter) SetStatusCode(code int) {
	s.statusCode = code
}

// Header returns the wrapped header map
func (s *SafeWriter) Header() http.Header {
	return s.w.Header()
}

// WriteHeader sends headers once; later calls are ignored
func (s *SafeWriter) WriteHeader(code int) {
	if s.written {
		return
	}
	s.written = true
	s.w.Header().Set("Content-Type", "text/html; charset=utf-8")
	s.w.Header().Set("Cache-Control", "no-store")
	s.w.WriteHeader(code)
}

func (s *SafeWriter) Write(b []byte) (int, error) {
	if !s.written {
		s.WriteHeader(s.statusCode)
	}
	return s.w.Write(b)
}
