package adapter

import (
	"fmt"
)

// UpstreamError reports that a vendor refused or never answered a request.
// No stream was started.
type UpstreamError struct {
	Provider   string
	StatusCode int // zero when the connection itself failed
	Type       string
	Code       string
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("%s: send request: %v", e.Provider, e.Err)
	case e.Type != "" || e.Code != "":
		return fmt.Sprintf("%s: %s (status=%d, type=%s, code=%s)", e.Provider, e.Message, e.StatusCode, e.Type, e.Code)
	case e.Message != "":
		return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("%s: http %d", e.Provider, e.StatusCode)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// VendorError is an error envelope received inside an otherwise healthy
// stream.
type VendorError struct {
	Provider string
	Type     string
	Message  string
}

func (e *VendorError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: stream error %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: stream error: %s", e.Provider, e.Message)
}
