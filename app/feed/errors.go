package feed

import (
	"fmt"
)

type InvalidURLError struct {
	URL    string
	Reason string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid feed url %q: %s", e.URL, e.Reason)
}

// FetchError is returned when the document could not be retrieved.
// StatusCode is zero for transport failures and timeouts.
type FetchError struct {
	URL        string
	StatusCode int
	Status     string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP error: %d %s", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("failed to fetch feed: %v", e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse feed: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
