package daemon

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 64 << 10

const genericServerFault = "server error"

// Classify turns a response status into an error, or nil for [200,400). It runs before
// any payload decoding. A 404 body is left unread.
func Classify(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code == http.StatusNotFound:
		return &Error{Kind: KindNotFound, StatusCode: code}
	case code == http.StatusInternalServerError:
		msg := errorMessage(resp.Body)
		if msg == "" {
			msg = genericServerFault
		}
		return &Error{Kind: KindServerFault, StatusCode: code, Message: msg}
	case code >= 200 && code < 400:
		return nil
	default:
		msg := errorMessage(resp.Body)
		if msg == "" {
			msg = http.StatusText(code)
		}
		return &Error{Kind: KindUnexpectedStatus, StatusCode: code, Message: msg}
	}
}

// errorMessage extracts {"message": ...} from body, falling back to its trimmed text.
func errorMessage(body io.Reader) string {
	if body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil && len(data) == 0 {
		return ""
	}

	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(data))
}

// statusClass is the metrics label for a classified exchange.
func statusClass(code int, err error) string {
	switch {
	case IsNotFound(err):
		return "not_found"
	case IsServerFault(err):
		return "server_fault"
	case err != nil:
		return "unexpected"
	case code < 300:
		return "2xx"
	default:
		return "3xx"
	}
}
