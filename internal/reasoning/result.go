package reasoning

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidConfigurationValue is returned when a configured value falls
// outside its allowed set (e.g. an unknown expected result in a test file).
var ErrInvalidConfigurationValue = errors.New("invalid configuration value")

// Result is the classification of a single automated reasoning finding.
// The zero value means no classification could be determined.
type Result string

const (
	ResultNone        Result = ""
	ResultValid       Result = "VALID"
	ResultInvalid     Result = "INVALID"
	ResultSatisfiable Result = "SATISFIABLE"
	ResultAmbiguous   Result = "AMBIGUOUS"
)

// String returns the wire name of the result
func (r Result) String() string {
	return string(r)
}

// MarshalJSON renders an absent result as null
func (r Result) MarshalJSON() ([]byte, error) {
	if r == ResultNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(r))
}

// ExpectedResult is the outcome a test case expects from the guardrail.
// Only VALID, INVALID and SATISFIABLE can be expected.
type ExpectedResult string

const (
	ExpectValid       ExpectedResult = "VALID"
	ExpectInvalid     ExpectedResult = "INVALID"
	ExpectSatisfiable ExpectedResult = "SATISFIABLE"
)

// ParseExpectedResult converts a raw string into an ExpectedResult.
// Matching is exact and case-sensitive.
func ParseExpectedResult(s string) (ExpectedResult, error) {
	switch e := ExpectedResult(s); e {
	case ExpectValid, ExpectInvalid, ExpectSatisfiable:
		return e, nil
	default:
		return "", fmt.Errorf("%w: expected result %q (allowed: VALID, INVALID, SATISFIABLE)", ErrInvalidConfigurationValue, s)
	}
}

// String returns the wire name of the expected result
func (e ExpectedResult) String() string {
	return string(e)
}

// UnmarshalText routes JSON and YAML decoding through ParseExpectedResult
func (e *ExpectedResult) UnmarshalText(text []byte) error {
	parsed, err := ParseExpectedResult(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (e ExpectedResult) MarshalText() ([]byte, error) {
	return []byte(e), nil
}

// Evaluate reports whether the actual result satisfies the expectation.
// An undetermined actual result never passes.
func Evaluate(actual Result, expected ExpectedResult) bool {
	if actual == ResultNone {
		return false
	}
	return string(actual) == string(expected)
}
