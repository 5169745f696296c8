package binance

import (
	"errors"

	"book-aggregator/internal/core"
)

const (
	apiCodeInvalidSymbol = -1121
	apiCodeBadSymbol     = -1100
	apiCodeTooManyReqs   = -1003
)

// classifyError maps a transport or API failure of a request for pair onto
// the aggregator's error kinds. what names the request in messages; a zero
// pair means the request was not for a single pair.
func (c *Client) classifyError(pair core.CurrencyPair, what string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := core.AsError(err); ok {
		return err
	}
	var apiErr APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case apiCodeInvalidSymbol, apiCodeBadSymbol:
			if pair == (core.CurrencyPair{}) {
				return core.RequestInvalid(c.name, "%s rejected: %s", what, apiErr.Msg)
			}
			return core.UnsupportedCurrencyPair(c.name, pair)
		case apiCodeTooManyReqs:
			return core.VenueUnavailable(c.name, err, "rate limited")
		}
		return core.VenueUnavailable(c.name, err, "%s failed", what)
	}
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return core.VenueUnavailable(c.name, err, "%s failed with status %d", what, httpErr.Status)
	}
	return core.VenueUnavailable(c.name, err, "%s failed", what)
}

func AsAPIError(err error) (APIError, bool) {
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		return APIError{}, false
	}
	return apiErr, true
}
