package tiktok

import "fmt"

// NetworkError wraps a transport-level failure (connect error, timeout).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("tiktok: network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// UpstreamError carries a non-ok application response from the Events API.
type UpstreamError struct {
	StatusCode int
	Code       int
	Message    string
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("tiktok: upstream rejected (http %d, code %d): %s", e.StatusCode, e.Code, e.Message)
}

// MalformedResponseError means the response body could not be parsed.
type MalformedResponseError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("tiktok: malformed response (http %d): %v", e.StatusCode, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }
