package books

import (
	"fmt"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// APIError describes a failed QuickBooks API call.
type APIError struct {
	// StatusCode is the provider's HTTP status, or zero when the
	// request never produced a response.
	StatusCode int

	// Body is the provider's response body, capped at the read limit.
	Body []byte

	// Message is a short summary: the first Fault message when the
	// body carries one, otherwise a sanitized body snippet or the
	// transport failure.
	Message string

	Err error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("quickbooks: status %d: %s", e.StatusCode, e.Message)
	}
	return "quickbooks: " + e.Message
}

func (e *APIError) Unwrap() error { return e.Err }

// JSONBody reports whether the provider response can be forwarded to
// the caller verbatim as JSON.
func (e *APIError) JSONBody() bool {
	return e.StatusCode != 0 && len(e.Body) > 0 && gjson.ValidBytes(e.Body)
}

// newAPIError builds an APIError from a provider error response.
func newAPIError(status int, body []byte) *APIError {
	return &APIError{
		StatusCode: status,
		Body:       body,
		Message:    faultMessage(body),
	}
}

// transportError wraps a request that never reached the provider, such
// as a connection failure or timeout.
func transportError(err error) *APIError {
	return &APIError{Message: err.Error(), Err: err}
}

// faultMessage extracts a short message from a QuickBooks error body.
// Error responses carry a Fault envelope:
//
//	{"Fault":{"Error":[{"Message":"...","Detail":"..."}],"type":"ValidationFault"}}
//
// Bodies without one are sanitized for inclusion in error strings.
func faultMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		if fault := gjson.GetBytes(body, "Fault.Error.0"); fault.Exists() {
			msg := fault.Get("Message").String()
			detail := fault.Get("Detail").String()

			switch {
			case msg != "" && detail != "":
				return msg + ": " + detail
			case msg != "":
				return msg
			case detail != "":
				return detail
			}
		}
	}

	return sanitizeBody(body)
}

// sanitizeBody truncates and sanitizes a response body for inclusion
// in error messages. Limits to 256 bytes and replaces non-printable
// characters to prevent log injection.
func sanitizeBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}
	// Ensure valid UTF-8 and replace control characters.
	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}
