package testcase

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/pretty"
)

// Summary aggregates a test run
type Summary struct {
	RunID            string        `json:"run_id"`
	StartedAt        time.Time     `json:"started_at"`
	GuardrailID      string        `json:"guardrail_id"`
	GuardrailVersion string        `json:"guardrail_version"`
	TotalTests       int           `json:"total_tests"`
	Passed           int           `json:"passed"`
	Failed           int           `json:"failed"`
	SuccessRate      float64       `json:"success_rate"`
	TestResults      []*CaseResult `json:"test_results"`
	SingleTestNumber int           `json:"single_test_number,omitempty"`
}

// Summarize tallies results. The success rate is 0 when there are no results.
func Summarize(guardrailID, guardrailVersion string, startedAt time.Time, results []*CaseResult) *Summary {
	s := &Summary{
		RunID:            uuid.NewString(),
		StartedAt:        startedAt,
		GuardrailID:      guardrailID,
		GuardrailVersion: guardrailVersion,
		TotalTests:       len(results),
		TestResults:      results,
	}
	if s.TestResults == nil {
		s.TestResults = []*CaseResult{}
	}

	for _, r := range results {
		if r.TestPassed {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	if s.TotalTests > 0 {
		s.SuccessRate = float64(s.Passed) / float64(s.TotalTests) * 100
	}
	return s
}

// PrintSummary writes the totals and details of every failed test
func PrintSummary(w io.Writer, s *Summary) {
	rule := strings.Repeat("=", 80)
	fmt.Fprintf(w, "\n%s\nTEST RESULTS SUMMARY\n%s\n", rule, rule)
	fmt.Fprintf(w, "Total Tests: %d\n", s.TotalTests)
	fmt.Fprintf(w, "Passed: %d\n", s.Passed)
	fmt.Fprintf(w, "Failed: %d\n", s.Failed)
	fmt.Fprintf(w, "Success Rate: %.1f%%\n", s.SuccessRate)

	if s.Failed == 0 {
		return
	}

	thin := strings.Repeat("-", 40)
	fmt.Fprintf(w, "\n%s\nFAILED TEST DETAILS\n%s\n", thin, thin)
	for _, r := range s.TestResults {
		if r.TestPassed {
			continue
		}
		fmt.Fprintf(w, "\nTest Case %d:\n", r.Number)
		fmt.Fprintf(w, "Expected: %s\n", r.ExpectedResult)
		fmt.Fprintf(w, "Actual Result: %s\n", r.OverallAction)
		for _, check := range r.TestsRun {
			fmt.Fprintf(w, "  - %s\n", check.Type)
		}
	}
}

// JSON renders the summary as indented JSON
func (s *Summary) JSON() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	return pretty.Pretty(data), nil
}

// WriteJSON writes the summary to path, creating parent directories
func (s *Summary) WriteJSON(path string) error {
	data, err := s.JSON()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
