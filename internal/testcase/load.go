// Package testcase loads automated reasoning test cases and runs them
// against a guardrail.
package testcase

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"github.com/ppiankov/archeck/internal/guardrail"
	"github.com/ppiankov/archeck/internal/reasoning"
)

// ErrOutOfRange is returned when a selected test number does not exist
var ErrOutOfRange = errors.New("test number out of range")

// Case is one test case. Number is its 1-based position in the file.
type Case struct {
	Number         int                      `json:"-"`
	ExpectedResult reasoning.ExpectedResult `json:"expected_result"`
	Question       string                   `json:"question,omitempty"`
	Answer         string                   `json:"answer,omitempty"`
}

// Content returns the text the guardrail checks
func (c Case) Content() guardrail.Content {
	return guardrail.Content{Question: c.Question, Answer: c.Answer}
}

type file struct {
	TestCases []Case `json:"test_cases"`
}

// LoadOptions controls how test files are read
type LoadOptions struct {
	// Repair runs malformed JSON through jsonrepair before giving up
	Repair bool
	Logger *zap.Logger
}

// Load reads test cases from a JSON file
func Load(path string, opts LoadOptions) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test cases %q: %w", path, err)
	}
	cases, err := Parse(data, opts)
	if err != nil {
		return nil, fmt.Errorf("test cases %q: %w", path, err)
	}
	return cases, nil
}

// Parse decodes {"test_cases": [...]} and validates expected results
func Parse(data []byte, opts LoadOptions) ([]Case, error) {
	var f file
	err := json.Unmarshal(data, &f)
	if err != nil && opts.Repair && !errors.Is(err, reasoning.ErrInvalidConfigurationValue) {
		repaired, rerr := jsonrepair.JSONRepair(string(data))
		if rerr != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		if opts.Logger != nil {
			opts.Logger.Warn("test case file was not valid JSON, using repaired content", zap.Error(err))
		}
		f = file{}
		err = json.Unmarshal([]byte(repaired), &f)
	}
	if err != nil {
		if errors.Is(err, reasoning.ErrInvalidConfigurationValue) {
			return nil, err
		}
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	for i := range f.TestCases {
		f.TestCases[i].Number = i + 1
		if f.TestCases[i].ExpectedResult == "" {
			return nil, fmt.Errorf("test case %d: missing expected_result: %w", i+1, reasoning.ErrInvalidConfigurationValue)
		}
	}
	if f.TestCases == nil {
		f.TestCases = []Case{}
	}
	return f.TestCases, nil
}

// Select returns only the 1-based test n
func Select(cases []Case, n int) ([]Case, error) {
	if n < 1 || n > len(cases) {
		return nil, fmt.Errorf("%w: test number %d, available tests: 1-%d", ErrOutOfRange, n, len(cases))
	}
	return []Case{cases[n-1]}, nil
}
