package backend

import (
	"bytes"
	"encoding/json"
	"strings"
)

// unwrap normalizes the response shapes the backend produces into the
// payload itself. It accepts a bare object or array, a {success, data,
// message} envelope and a {data, pagination} envelope. A success=false
// envelope is reported as rejected with its message.
func unwrap(op string, body []byte) (json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}

	if body[0] != '{' {
		return body, nil
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &Error{Kind: Upstream, Op: op, Err: err}
	}

	if raw, ok := env["success"]; ok {
		var success bool
		if err := json.Unmarshal(raw, &success); err == nil && !success {
			return nil, &Error{Kind: Rejected, Op: op, Message: message(body)}
		}
	}

	if data, ok := env["data"]; ok {
		if isNull(data) {
			return nil, nil
		}
		return data, nil
	}

	return body, nil
}

// message digs the human readable message out of an error body. Validation
// failures come as a list of strings.
func message(body []byte) string {
	var env struct {
		Message json.RawMessage `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}

	for _, raw := range []json.RawMessage{env.Message, env.Error} {
		if len(raw) == 0 || isNull(raw) {
			continue
		}

		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}

		var list []string
		if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
			return strings.Join(list, "; ")
		}
	}
	return ""
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
