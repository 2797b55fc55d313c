// Package bodybuffer implements the Body Buffer (C2): a once-only,
// idempotent read of the request body, gated by content type, that leaves
// the body intact for downstream delivery to the upstream target.
package bodybuffer

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
)

type contextKey struct{}

var bufferKey = contextKey{}

// state is stored once per request in the context. Buffer returns early
// when the context it is given already carries a state, so repeated calls
// on a context returned by Buffer never read the body again; calls on a
// context that does not carry one each create their own state and read
// r.Body.
type state struct {
	once sync.Once
	data []byte
}

// recognizedContentTypes are the families the spec requires the buffer to
// gate on; anything else is left unbuffered.
var recognizedContentTypes = []string{
	"application/json",
	"application/x-www-form-urlencoded",
	"application/xml",
	"text/xml",
	"multipart/form-data",
}

// ShouldBuffer reports whether r's method and content type make it eligible
// for body buffering at all (independent of whether a matched rule actually
// requires it).
func ShouldBuffer(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return false
	}
	contentType := ContentType(r.Header, "")
	for _, family := range recognizedContentTypes {
		if strings.HasPrefix(contentType, family) {
			return true
		}
	}
	return false
}

// Buffer reads r's body into memory once and attaches it to the returned
// context, restoring r.Body as a fresh reader over the cached bytes so the
// request remains fully readable downstream. On a read error it attaches an
// empty buffer and proceeds without failing the request, per §4.2.
func Buffer(ctx context.Context, r *http.Request, contentTypeOverride string) context.Context {
	existing, _ := ctx.Value(bufferKey).(*state)
	if existing != nil {
		return ctx
	}

	s := &state{}
	s.once.Do(func() {
		if r.Body == nil {
			s.data = []byte{}
			return
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			s.data = []byte{}
			return
		}
		s.data = data
		r.Body = io.NopCloser(bytes.NewReader(data))
	})

	return context.WithValue(ctx, bufferKey, s)
}

// FromContext returns the buffered body bytes for the request, or (nil,
// false) if Buffer was never called on this context.
func FromContext(ctx context.Context) ([]byte, bool) {
	s, ok := ctx.Value(bufferKey).(*state)
	if !ok {
		return nil, false
	}
	return s.data, true
}

// ContentType resolves the effective content type for extraction: the
// rule's override if set, otherwise the request's own Content-Type header.
func ContentType(headers http.Header, override string) string {
	if override != "" {
		return override
	}
	ct := headers.Get("Content-Type")
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.TrimSpace(ct)
}
