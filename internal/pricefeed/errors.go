package pricefeed

import "fmt"

// Kind classifies a failed price fetch.
type Kind string

const (
	KindNetwork Kind = "network"
	KindStatus  Kind = "status"
	KindDecode  Kind = "decode"
	KindMissing Kind = "missing"
	KindInvalid Kind = "invalid"
)

// FetchError describes why a live price could not be obtained.
type FetchError struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("pricefeed %s (%d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("pricefeed %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
