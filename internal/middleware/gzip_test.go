package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoHandler возвращает тело запроса с префиксом и тем же Content-Type.
func echoHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(append([]byte("echo: "), body...))
}

func compress(t *testing.T, s string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return &buf
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	var r io.Reader = res.Body
	if res.Header.Get("Content-Encoding") == "gzip" {
		gr, err := gzip.NewReader(res.Body)
		require.NoError(t, err)
		defer gr.Close()
		r = gr
	}
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(body)
}

func TestGzipMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		gzipRequest    bool
		acceptEncoding string
		contentType    string
		wantEncoding   string
	}{
		{
			name:           "json response compressed",
			body:           `{"code":"SAVE20"}`,
			acceptEncoding: "gzip, deflate",
			contentType:    "application/json",
			wantEncoding:   "gzip",
		},
		{
			name:           "plain text compressed",
			body:           "low stock report",
			acceptEncoding: "gzip",
			contentType:    "text/plain",
			wantEncoding:   "gzip",
		},
		{
			name:        "client without gzip gets identity",
			body:        "stats",
			contentType: "text/plain",
		},
		{
			name:           "compressed request body is inflated",
			body:           "broadcast text",
			gzipRequest:    true,
			acceptEncoding: "gzip",
			contentType:    "text/plain",
			wantEncoding:   "gzip",
		},
		{
			name:        "compressed request, identity response",
			body:        `{"stock":7}`,
			gzipRequest: true,
			contentType: "application/json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reqBody io.Reader = bytes.NewBufferString(tt.body)
			if tt.gzipRequest {
				reqBody = compress(t, tt.body)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/admin/vouchers", reqBody)
			req.Header.Set("Content-Type", tt.contentType)
			if tt.gzipRequest {
				req.Header.Set("Content-Encoding", "gzip")
			}
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}

			w := httptest.NewRecorder()
			GzipMiddleware(http.HandlerFunc(echoHandler)).ServeHTTP(w, req)

			res := w.Result()
			defer res.Body.Close()

			assert.Equal(t, http.StatusOK, res.StatusCode)
			assert.Equal(t, tt.contentType, res.Header.Get("Content-Type"))
			assert.Equal(t, tt.wantEncoding, res.Header.Get("Content-Encoding"))
			if tt.wantEncoding != "" {
				assert.Equal(t, "Accept-Encoding", res.Header.Get("Vary"))
			}
			assert.Equal(t, "echo: "+tt.body, readBody(t, res))
		})
	}
}

func TestGzipMiddleware_InvalidBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/admin/broadcasts", bytes.NewBufferString("not gzip"))
	req.Header.Set("Content-Encoding", "gzip")

	w := httptest.NewRecorder()
	GzipMiddleware(http.HandlerFunc(echoHandler)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
