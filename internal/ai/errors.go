package ai

import "fmt"

// bodyExcerptLimit caps the response body carried inside an AdapterError.
const bodyExcerptLimit = 2048

// AdapterError reports a non-success provider response.
type AdapterError struct {
	Provider string `json:"provider"`
	Status   int    `json:"status"`
	Body     string `json:"body,omitempty"`
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Status, e.Body)
}

// newAdapterError builds an AdapterError with the body excerpt capped.
func newAdapterError(provider string, status int, body []byte) *AdapterError {
	excerpt := string(body)
	if len(excerpt) > bodyExcerptLimit {
		excerpt = excerpt[:bodyExcerptLimit]
	}
	return &AdapterError{Provider: provider, Status: status, Body: excerpt}
}
