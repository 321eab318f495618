package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeTar  = "application/tar"
)

// Endpoint is a method plus a path template such as "/containers/{id}/start".
type Endpoint struct {
	Method string
	Path   string
}

func (e Endpoint) String() string {
	return e.Method + " " + e.Path
}

// Expand substitutes params into the template's placeholders in order of appearance.
// Each value is escaped segment by segment, so a '/' inside a value is kept.
func (e Endpoint) Expand(params ...string) (string, error) {
	var b strings.Builder
	rest := e.Path
	used := 0
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			break
		}
		name := rest[open+1 : open+end]
		b.WriteString(rest[:open])

		if used >= len(params) {
			return "", fmt.Errorf("%w: {%s} in %s", ErrMissingPathParam, name, e.Path)
		}
		escaped, err := escapeParam(params[used])
		if err != nil {
			return "", fmt.Errorf("%w: {%s} in %s", err, name, e.Path)
		}
		b.WriteString(escaped)
		used++
		rest = rest[open+end+1:]
	}
	b.WriteString(rest)

	if used < len(params) {
		return "", fmt.Errorf("%w: %s takes %d, got %d", ErrUnusedPathParam, e.Path, used, len(params))
	}
	return b.String(), nil
}

func escapeParam(v string) (string, error) {
	if v == "" {
		return "", ErrMissingPathParam
	}
	segs := strings.Split(v, "/")
	for i, s := range segs {
		if s == "" || s == "." || s == ".." {
			return "", ErrInvalidPathParam
		}
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/"), nil
}

// Request describes one daemon call. A nil Query value omits that parameter entirely.
type Request struct {
	Endpoint   Endpoint
	PathParams []string
	Query      map[string]*string
	Body       Body
}

// String returns a query value pointer for s.
func String(s string) *string {
	return &s
}

// OptionalString is String(s), or nil when s is empty.
func OptionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Bool encodes b the way the daemon's boolean flags expect it.
func Bool(b bool) *string {
	if b {
		return String("1")
	}
	return String("0")
}

func Int(n int) *string {
	return String(strconv.Itoa(n))
}

// Body is a request payload.
type Body interface {
	ContentType() string
	Open() (io.Reader, error)
}

type jsonBody struct {
	v interface{}
}

// JSONBody serializes v as the request payload.
func JSONBody(v interface{}) Body {
	return jsonBody{v: v}
}

func (b jsonBody) ContentType() string { return ContentTypeJSON }

func (b jsonBody) Open() (io.Reader, error) {
	data, err := json.Marshal(b.v)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return bytes.NewReader(data), nil
}

type rawBody struct {
	r           io.Reader
	contentType string
}

// RawBody streams r unmodified with the given content type.
func RawBody(r io.Reader, contentType string) Body {
	return rawBody{r: r, contentType: contentType}
}

func (b rawBody) ContentType() string { return b.contentType }

func (b rawBody) Open() (io.Reader, error) { return b.r, nil }

// BuildURL resolves req against base. A non-empty apiVersion prefixes the path
// with "/v<apiVersion>".
func BuildURL(base *url.URL, apiVersion string, req Request) (*url.URL, error) {
	escaped, err := req.Endpoint.Expand(req.PathParams...)
	if err != nil {
		return nil, err
	}
	if apiVersion != "" {
		escaped = "/v" + strings.TrimPrefix(apiVersion, "v") + escaped
	}
	raw := strings.TrimSuffix(base.EscapedPath(), "/") + escaped
	unescaped, err := url.PathUnescape(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPathParam, err)
	}

	u := *base
	u.Path = unescaped
	u.RawPath = raw
	u.RawQuery = encodeQuery(req.Query)
	u.Fragment = ""
	return &u, nil
}

func encodeQuery(q map[string]*string) string {
	vals := url.Values{}
	for k, v := range q {
		if v != nil {
			vals.Set(k, *v)
		}
	}
	return vals.Encode()
}

// NewHTTPRequest builds the *http.Request for req without sending it.
func NewHTTPRequest(ctx context.Context, base *url.URL, apiVersion string, req Request) (*http.Request, error) {
	u, err := BuildURL(base, apiVersion, req)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Body != nil {
		if body, err = req.Body.Open(); err != nil {
			return nil, err
		}
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Endpoint.Method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if req.Body != nil {
		hreq.Header.Set("Content-Type", req.Body.ContentType())
	}
	return hreq, nil
}
