package llm

import "fmt"

// ProviderError reports a failed exchange with a text-generation backend.
// StatusCode is zero when the failure happened before an HTTP status was
// read (transport errors, marshalling, response parsing).
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s provider: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
