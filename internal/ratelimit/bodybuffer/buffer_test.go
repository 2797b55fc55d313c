package bodybuffer

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldBuffer(t *testing.T) {
	post := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("{}"))
	post.Header.Set("Content-Type", "application/json")
	assert.True(t, ShouldBuffer(post), "expected JSON POST to be eligible for buffering")

	get := httptest.NewRequest(http.MethodGet, "/x", nil)
	get.Header.Set("Content-Type", "application/json")
	assert.False(t, ShouldBuffer(get), "expected GET to never be buffered")

	unrecognized := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("binary"))
	unrecognized.Header.Set("Content-Type", "application/octet-stream")
	assert.False(t, ShouldBuffer(unrecognized), "expected unrecognized content type to be skipped")
}

func TestBufferIsIdempotentAndRestoresBody(t *testing.T) {
	body := `{"id":"abc"}`
	r := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")

	ctx := Buffer(context.Background(), r, "")
	data, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, body, string(data))

	// Downstream must still be able to read the full body.
	remaining, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(remaining))

	// A second Buffer call on the same context must not re-read r.Body
	// (which has already been drained by the ReadAll above) — it should
	// return the same cached state.
	ctx2 := Buffer(ctx, r, "")
	data2, ok2 := FromContext(ctx2)
	require.True(t, ok2)
	assert.Equal(t, body, string(data2))
}

func TestContentTypeOverride(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "application/json; charset=utf-8")
	assert.Equal(t, "application/json", ContentType(h, ""), "expected stripped content type")
	assert.Equal(t, "application/xml", ContentType(h, "application/xml"), "expected override to win")
}
