package core

import (
	"context"
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindVenueUnavailable        ErrorKind = "VENUE_UNAVAILABLE"
	KindUnsupportedCurrencyPair ErrorKind = "UNSUPPORTED_CURRENCY_PAIR"
	KindMalformedSnapshot       ErrorKind = "MALFORMED_SNAPSHOT"
	KindMergeInputInvalid       ErrorKind = "MERGE_INPUT_INVALID"
	KindRequestInvalid          ErrorKind = "REQUEST_INVALID"
)

var (
	// ErrVenueUnavailable indicates a network, auth or timeout failure reaching a venue.
	ErrVenueUnavailable = errors.New("venue unavailable")
	// ErrUnsupportedCurrencyPair indicates the venue does not list the pair.
	ErrUnsupportedCurrencyPair = errors.New("unsupported currency pair")
	// ErrMalformedSnapshot indicates the venue returned unparsable or incorrectly shaped data.
	ErrMalformedSnapshot = errors.New("malformed snapshot")
	// ErrMergeInputInvalid indicates a ladder handed to the merge was not sorted as required.
	ErrMergeInputInvalid = errors.New("merge input invalid")
	// ErrRequestInvalid indicates a caller error such as an empty venue list.
	ErrRequestInvalid = errors.New("request invalid")
)

var kindSentinels = map[ErrorKind]error{
	KindVenueUnavailable:        ErrVenueUnavailable,
	KindUnsupportedCurrencyPair: ErrUnsupportedCurrencyPair,
	KindMalformedSnapshot:       ErrMalformedSnapshot,
	KindMergeInputInvalid:       ErrMergeInputInvalid,
	KindRequestInvalid:          ErrRequestInvalid,
}

// Error is the single structured failure type surfaced by the aggregation core.
type Error struct {
	Kind    ErrorKind
	Venue   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Venue != "" {
		msg += " venue=" + e.Venue
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := kindSentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(kind ErrorKind, venue string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Venue: venue, Message: fmt.Sprintf(format, args...), Err: err}
}

func VenueUnavailable(venue string, err error, format string, args ...any) *Error {
	return newError(KindVenueUnavailable, venue, err, format, args...)
}

func UnsupportedCurrencyPair(venue string, pair CurrencyPair) *Error {
	return newError(KindUnsupportedCurrencyPair, venue, nil, "pair %s is not listed", pair)
}

func MalformedSnapshot(venue string, err error, format string, args ...any) *Error {
	return newError(KindMalformedSnapshot, venue, err, format, args...)
}

func MergeInputInvalid(venue string, format string, args ...any) *Error {
	return newError(KindMergeInputInvalid, venue, nil, format, args...)
}

func RequestInvalid(venue string, format string, args ...any) *Error {
	return newError(KindRequestInvalid, venue, nil, format, args...)
}

// AsError extracts the structured error from err, if any.
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var e *Error
	if !errors.As(err, &e) {
		return nil, false
	}
	return e, true
}

// KindOf returns the error kind carried by err, or "" when err is not a core error.
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return ""
}

// ClassifyFetchError maps any error returned by a snapshot source into a
// structured error tagged with venue. Untyped failures and timeouts are
// treated as the venue being unavailable.
func ClassifyFetchError(venue string, err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		if e.Venue == "" {
			cp := *e
			cp.Venue = venue
			return &cp
		}
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return VenueUnavailable(venue, err, "fetch timed out")
	}
	return VenueUnavailable(venue, err, "fetch failed")
}
