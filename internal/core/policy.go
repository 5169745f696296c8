package core

import (
	"strings"
)

// FailurePolicy decides what an aggregation does when a venue fetch fails.
type FailurePolicy string

const (
	// PolicyAbort fails the whole request when any venue fetch fails.
	PolicyAbort FailurePolicy = "abort"
	// PolicyPartial drops failed venues and reports them as excluded.
	PolicyPartial FailurePolicy = "partial"
)

// ParseFailurePolicy maps a policy name, case-insensitively. Empty means
// PolicyAbort.
func ParseFailurePolicy(v string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(v))); p {
	case "", PolicyAbort:
		return PolicyAbort, nil
	case PolicyPartial:
		return PolicyPartial, nil
	}
	return "", RequestInvalid("", "unknown failure policy %q", v)
}

func (p FailurePolicy) String() string { return string(p) }
