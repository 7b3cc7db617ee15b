package api

import (
	"encoding/json"
	"fmt"

	"github.com/sipeed/wabridge/pkg/dispatch"
)

const missingContentMessage = "At least one of: message, imageUrl, imageUrls, or pdfUrl is required"

// ValidationError is a request shape problem reported to the caller as a 400.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// parseSendRequest checks the body field by field so type errors name the offending
// field. Empty values (null, false, 0, "") count as absent.
func parseSendRequest(body []byte) (dispatch.Request, error) {
	var req dispatch.Request

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return req, invalid("Invalid JSON body")
	}

	if !present(fields["phoneNumber"]) {
		return req, invalid("phoneNumber is required")
	}
	if err := json.Unmarshal(fields["phoneNumber"], &req.PhoneNumber); err != nil {
		return req, invalid("phoneNumber must be a string")
	}

	if raw := fields["imageUrls"]; present(raw) {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return req, invalid("imageUrls must be an array")
		}
		if len(items) == 0 {
			return req, invalid("imageUrls array cannot be empty")
		}
		req.ImageURLs = make([]string, len(items))
		for i, item := range items {
			if err := json.Unmarshal(item, &req.ImageURLs[i]); err != nil || isNull(item) {
				return req, invalid("imageUrls[%d] must be a string", i)
			}
		}
	}

	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"message", &req.Message},
		{"imageUrl", &req.ImageURL},
		{"pdfUrl", &req.PDFURL},
	} {
		raw := fields[f.name]
		if !present(raw) {
			continue
		}
		if err := json.Unmarshal(raw, f.dst); err != nil {
			return req, invalid("%s must be a string", f.name)
		}
	}

	if req.Kind() == "" {
		return req, invalid(missingContentMessage)
	}
	return req, nil
}

func present(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}
