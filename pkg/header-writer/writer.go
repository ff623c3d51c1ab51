package headerwriter

import (
	"net/http"
)

// RewriteFunc returns the header to send with a response of the given status.
type RewriteFunc func(status int, header http.Header) http.Header

// HeaderWriter is a wrapper around http.ResponseWriter that passes the
// response headers through a RewriteFunc right before they are sent.
type HeaderWriter struct {
	rw           http.ResponseWriter
	header       http.Header
	status       int
	wroteHeaders bool
	rewrite      RewriteFunc
}

// Implementation of http.ResponseWriter
func (t *HeaderWriter) Header() http.Header {
	return t.header
}

// Implementation of http.ResponseWriter
func (t *HeaderWriter) WriteHeader(statusCode int) {
	// headers can only be sent once
	if t.wroteHeaders {
		return
	}
	t.wroteHeaders = true
	t.status = statusCode
	header := t.header
	if t.rewrite != nil {
		header = t.rewrite(statusCode, header.Clone())
	}
	replaceHeader(t.rw.Header(), header)
	t.rw.WriteHeader(statusCode)
}

// Implementation of http.ResponseWriter
func (t *HeaderWriter) Write(b []byte) (int, error) {
	// write headers if not already written
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	return t.rw.Write(b)
}

// Flush implements http.Flusher if the underlying writer does.
func (t *HeaderWriter) Flush() {
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	if f, ok := t.rw.(http.Flusher); ok {
		f.Flush()
	}
}

// Finish sends the headers with a 200 status if the handler returned
// without writing anything.
func (t *HeaderWriter) Finish() {
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
}

// StatusCode returns the status code of the response, or 0 if the headers
// have not been written yet.
func (t *HeaderWriter) StatusCode() int {
	return t.status
}

// New returns a HeaderWriter writing to w. Headers already set on w are kept
// unless rewrite removes them.
func New(w http.ResponseWriter, rewrite RewriteFunc) *HeaderWriter {
	return &HeaderWriter{
		rw:      w,
		header:  w.Header().Clone(),
		rewrite: rewrite,
	}
}

func replaceHeader(dst, src http.Header) {
	for k := range dst {
		delete(dst, k)
	}
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
