package api

import (
	"encoding/json"
	"fmt"
	"strings"
)

// fieldOrder controls which field's messages win when a validation
// response reports problems on more than one field.
var fieldOrder = []string{"password", "username", "email", "non_field_errors"}

// ValidationError is a structured error response from the backend:
// per-field message lists, or a generic detail string.
type ValidationError struct {
	StatusCode int
	Fields     map[string][]string
	Detail     string
}

func (e *ValidationError) Error() string {
	return e.Message()
}

// Message returns the most specific text available: field messages
// first, then the generic detail, then a fallback.
func (e *ValidationError) Message() string {
	for _, field := range fieldOrder {
		if msgs := e.Fields[field]; len(msgs) > 0 {
			return strings.Join(msgs, ". ")
		}
	}
	for _, msgs := range e.Fields {
		if len(msgs) > 0 {
			return strings.Join(msgs, ". ")
		}
	}
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("request failed (HTTP %d)", e.StatusCode)
}

// parseErrorResponse decodes an error body. The backend sends either
// {"detail": "..."} or {"<field>": ["msg", ...], ...}; fields may also
// arrive as a bare string instead of a list.
func parseErrorResponse(status int, body []byte) error {
	verr := &ValidationError{
		StatusCode: status,
		Fields:     make(map[string][]string),
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return verr
	}

	for key, val := range raw {
		if key == "detail" {
			var detail string
			if json.Unmarshal(val, &detail) == nil {
				verr.Detail = detail
			}
			continue
		}

		var list []string
		if json.Unmarshal(val, &list) == nil {
			verr.Fields[key] = list
			continue
		}
		var single string
		if json.Unmarshal(val, &single) == nil {
			verr.Fields[key] = []string{single}
		}
	}

	return verr
}
