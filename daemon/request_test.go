package daemon

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func TestEndpointExpand(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		params  []string
		want    string
		wantErr error
	}{
		{name: "no placeholders", path: "/info", want: "/info"},
		{name: "one", path: "/containers/{id}/start", params: []string{"abc123"}, want: "/containers/abc123/start"},
		{name: "in order", path: "/a/{x}/b/{y}", params: []string{"1", "2"}, want: "/a/1/b/2"},
		{name: "slash kept", path: "/images/{name}/json", params: []string{"library/ubuntu"}, want: "/images/library/ubuntu/json"},
		{name: "escaped", path: "/images/{name}/json", params: []string{"my image"}, want: "/images/my%20image/json"},
		{name: "missing", path: "/containers/{id}/start", wantErr: ErrMissingPathParam},
		{name: "empty value", path: "/containers/{id}/start", params: []string{""}, wantErr: ErrMissingPathParam},
		{name: "dot dot", path: "/containers/{id}/start", params: []string{"../images"}, wantErr: ErrInvalidPathParam},
		{name: "unused", path: "/info", params: []string{"x"}, wantErr: ErrUnusedPathParam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Endpoint{Method: http.MethodGet, Path: tt.path}.Expand(tt.params...)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildURL(t *testing.T) {
	base := mustURL(t, "http://localhost")
	req := Request{
		Endpoint:   Endpoint{Method: http.MethodPost, Path: "/containers/{id}/stop"},
		PathParams: []string{"c1"},
		Query: map[string]*string{
			"t":      Int(10),
			"signal": nil,
			"name":   OptionalString(""),
			"force":  Bool(true),
		},
	}

	t.Run("unversioned", func(t *testing.T) {
		u, err := BuildURL(base, "", req)
		require.NoError(t, err)
		assert.Equal(t, "http://localhost/containers/c1/stop?force=1&t=10", u.String())
	})

	t.Run("versioned", func(t *testing.T) {
		u, err := BuildURL(base, "1.43", req)
		require.NoError(t, err)
		assert.Equal(t, "/v1.43/containers/c1/stop", u.Path)

		u, err = BuildURL(base, "v1.43", req)
		require.NoError(t, err)
		assert.Equal(t, "/v1.43/containers/c1/stop", u.Path)
	})

	t.Run("nil values are omitted", func(t *testing.T) {
		u, err := BuildURL(base, "", req)
		require.NoError(t, err)
		assert.NotContains(t, u.RawQuery, "signal")
		assert.NotContains(t, u.RawQuery, "name")
	})

	t.Run("base path is kept", func(t *testing.T) {
		u, err := BuildURL(mustURL(t, "https://proxy.example.com/docker/"), "", req)
		require.NoError(t, err)
		assert.Equal(t, "https://proxy.example.com/docker/containers/c1/stop?force=1&t=10", u.String())
	})

	t.Run("does not mutate base", func(t *testing.T) {
		_, err := BuildURL(base, "1.43", req)
		require.NoError(t, err)
		assert.Equal(t, "http://localhost", base.String())
	})
}

func TestNewHTTPRequest(t *testing.T) {
	base := mustURL(t, "http://localhost")
	ctx := context.Background()

	t.Run("json body", func(t *testing.T) {
		hreq, err := NewHTTPRequest(ctx, base, "", Request{
			Endpoint: Endpoint{Method: http.MethodPost, Path: "/containers/create"},
			Body:     JSONBody(map[string]string{"Image": "busybox"}),
		})
		require.NoError(t, err)
		assert.Equal(t, ContentTypeJSON, hreq.Header.Get("Content-Type"))
		data, err := io.ReadAll(hreq.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"Image":"busybox"}`, string(data))
	})

	t.Run("raw body", func(t *testing.T) {
		hreq, err := NewHTTPRequest(ctx, base, "", Request{
			Endpoint: Endpoint{Method: http.MethodPost, Path: "/build"},
			Body:     RawBody(strings.NewReader("tar bytes"), ContentTypeTar),
		})
		require.NoError(t, err)
		assert.Equal(t, ContentTypeTar, hreq.Header.Get("Content-Type"))
		data, err := io.ReadAll(hreq.Body)
		require.NoError(t, err)
		assert.Equal(t, "tar bytes", string(data))
	})

	t.Run("no body", func(t *testing.T) {
		hreq, err := NewHTTPRequest(ctx, base, "", Request{
			Endpoint:   Endpoint{Method: http.MethodDelete, Path: "/containers/{id}"},
			PathParams: []string{"c1"},
		})
		require.NoError(t, err)
		assert.Empty(t, hreq.Header.Get("Content-Type"))
		assert.Equal(t, http.MethodDelete, hreq.Method)
		assert.Equal(t, "/containers/c1", hreq.URL.Path)
	})

	t.Run("unencodable body", func(t *testing.T) {
		_, err := NewHTTPRequest(ctx, base, "", Request{
			Endpoint: Endpoint{Method: http.MethodPost, Path: "/x"},
			Body:     JSONBody(make(chan int)),
		})
		assert.Error(t, err)
	})

	t.Run("bad template", func(t *testing.T) {
		_, err := NewHTTPRequest(ctx, base, "", Request{
			Endpoint: Endpoint{Method: http.MethodGet, Path: "/containers/{id}/json"},
		})
		assert.ErrorIs(t, err, ErrMissingPathParam)
	})
}
