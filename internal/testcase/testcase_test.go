package testcase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/archeck/internal/guardrail"
	"github.com/ppiankov/archeck/internal/reasoning"
)

const casesJSON = `{
  "test_cases": [
    {"expected_result": "VALID", "question": "Can I return shoes?", "answer": "Yes, within 30 days."},
    {"expected_result": "INVALID", "answer": "Refunds take a year."},
    {"expected_result": "SATISFIABLE", "question": "Is a refund possible?"}
  ]
}`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cases.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cases, err := Load(writeFile(t, casesJSON), LoadOptions{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cases) != 3 {
		t.Fatalf("expected 3 cases, got %d", len(cases))
	}
	if cases[0].Number != 1 || cases[2].Number != 3 {
		t.Errorf("unexpected numbering %d, %d", cases[0].Number, cases[2].Number)
	}
	if cases[1].ExpectedResult != reasoning.ExpectInvalid || cases[1].Question != "" {
		t.Errorf("unexpected case %+v", cases[1])
	}
}

func TestLoad_InvalidExpectedResult(t *testing.T) {
	_, err := Load(writeFile(t, `{"test_cases":[{"expected_result":"MAYBE","answer":"x"}]}`), LoadOptions{Repair: true})
	if !errors.Is(err, reasoning.ErrInvalidConfigurationValue) {
		t.Errorf("expected ErrInvalidConfigurationValue, got %v", err)
	}
}

func TestLoad_MissingExpectedResult(t *testing.T) {
	_, err := Load(writeFile(t, `{"test_cases":[{"answer":"x"}]}`), LoadOptions{})
	if !errors.Is(err, reasoning.ErrInvalidConfigurationValue) {
		t.Errorf("expected ErrInvalidConfigurationValue, got %v", err)
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	broken := `{"test_cases":[{"expected_result":"VALID","answer":"ok",}]}`

	if _, err := Load(writeFile(t, broken), LoadOptions{}); err == nil {
		t.Fatal("expected error without repair")
	}

	cases, err := Load(writeFile(t, broken), LoadOptions{Repair: true})
	if err != nil {
		t.Fatalf("Load with repair failed: %v", err)
	}
	if len(cases) != 1 || cases[0].Answer != "ok" {
		t.Errorf("unexpected repaired cases %+v", cases)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "none.json"), LoadOptions{}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParse_NoCases(t *testing.T) {
	cases, err := Parse([]byte(`{}`), LoadOptions{})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cases == nil || len(cases) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", cases)
	}
}

func TestSelect(t *testing.T) {
	cases, _ := Parse([]byte(casesJSON), LoadOptions{})

	got, err := Select(cases, 2)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(got) != 1 || got[0].Number != 2 {
		t.Errorf("unexpected selection %+v", got)
	}

	for _, n := range []int{0, 4, -1} {
		if _, err := Select(cases, n); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("Select(%d): expected ErrOutOfRange, got %v", n, err)
		}
	}
}

// fakeApplier returns a response per answer/question text
type fakeApplier struct {
	mu      sync.Mutex
	docs    map[string]string
	err     error
	sources []guardrail.Source
}

func (f *fakeApplier) Apply(ctx context.Context, content guardrail.Content, source guardrail.Source) (*guardrail.Response, error) {
	f.mu.Lock()
	f.sources = append(f.sources, source)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	key := content.Answer
	if key == "" {
		key = content.Question
	}
	doc := f.docs[key]
	return &guardrail.Response{
		Action:   guardrail.ActionNone,
		Usage:    map[string]int64{"automatedReasoningPolicyUnits": 1},
		Document: json.RawMessage(doc),
	}, nil
}

func findingsDoc(variants ...string) string {
	parts := make([]string, len(variants))
	for i, v := range variants {
		parts[i] = `{"` + v + `":{}}`
	}
	return `{"assessments":[{"automatedReasoningPolicy":{"findings":[` + strings.Join(parts, ",") + `]}}]}`
}

func TestRunner_Run(t *testing.T) {
	cases, _ := Parse([]byte(casesJSON), LoadOptions{})
	applier := &fakeApplier{docs: map[string]string{
		"Yes, within 30 days.":  findingsDoc("invalid", "valid"),
		"Refunds take a year.":  findingsDoc("valid"),
		"Is a refund possible?": findingsDoc("satisfiable"),
	}}

	var progress bytes.Buffer
	runner := NewRunner(applier, RunnerOptions{Concurrency: 3, Progress: &progress})
	results := runner.Run(context.Background(), cases)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	first := results[0]
	if first.Number != 1 || !first.TestPassed || first.OverallAction != "VALID" {
		t.Errorf("last finding should decide case 1: %+v", first)
	}
	if first.TestsRun[0].Type != guardrail.KindQuestionAndAnswer {
		t.Errorf("unexpected type %q", first.TestsRun[0].Type)
	}
	if first.TestsRun[0].Content != "Q: Can I return shoes? | A: Yes, within 30 days." {
		t.Errorf("unexpected content summary %q", first.TestsRun[0].Content)
	}

	if results[1].TestPassed || results[1].OverallAction != "VALID" {
		t.Errorf("case 2 should fail with VALID: %+v", results[1])
	}
	if !results[2].TestPassed || results[2].TestsRun[0].Type != guardrail.KindQuestionOnly {
		t.Errorf("case 3 should pass: %+v", results[2])
	}

	for _, s := range applier.sources {
		if s != guardrail.SourceOutput {
			t.Errorf("expected OUTPUT source, got %q", s)
		}
	}

	if !strings.Contains(progress.String(), "Running test case 2") {
		t.Errorf("progress report missing case 2:\n%s", progress.String())
	}
}

func TestRunner_ErrorCase(t *testing.T) {
	applier := &fakeApplier{err: errors.New("AccessDenied")}
	runner := NewRunner(applier, RunnerOptions{})

	res := runner.RunCase(context.Background(), Case{Number: 1, ExpectedResult: reasoning.ExpectValid, Answer: "a"})
	if res.TestPassed {
		t.Error("errored case must not pass")
	}
	if res.OverallAction != ActionError || res.TestsRun[0].Action != ActionError {
		t.Errorf("expected ERROR actions, got %+v", res)
	}
	if res.GetError() == nil || res.TestsRun[0].Error == "" {
		t.Error("expected error recorded")
	}
}

func TestRunner_NoFindings(t *testing.T) {
	applier := &fakeApplier{docs: map[string]string{"a": `{"assessments":[]}`}}
	runner := NewRunner(applier, RunnerOptions{})

	res := runner.RunCase(context.Background(), Case{Number: 1, ExpectedResult: reasoning.ExpectValid, Answer: "a"})
	if res.TestPassed || res.OverallAction != ActionError {
		t.Errorf("expected failure with ERROR action, got %+v", res)
	}
	if res.TestsRun[0].Action != guardrail.ActionNone {
		t.Errorf("expected guardrail action kept, got %q", res.TestsRun[0].Action)
	}
}

func TestRunner_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cases, _ := Parse([]byte(casesJSON), LoadOptions{})
	results := NewRunner(&fakeApplier{}, RunnerOptions{}).Run(ctx, cases)

	if len(results) != len(cases) {
		t.Fatalf("expected a result per case, got %d", len(results))
	}
	for i, r := range results {
		if r == nil || r.TestPassed {
			t.Errorf("result %d should be a failure, got %+v", i, r)
		}
	}
}

func TestSummarize(t *testing.T) {
	results := []*CaseResult{
		{Number: 1, TestPassed: true},
		{Number: 2, TestPassed: false, ExpectedResult: reasoning.ExpectValid, OverallAction: "INVALID",
			TestsRun: []Check{{Type: guardrail.KindAnswerOnly}}},
		{Number: 3, TestPassed: true},
		{Number: 4, TestPassed: true},
	}

	s := Summarize("gr-1", "DRAFT", time.Now(), results)
	if s.TotalTests != 4 || s.Passed != 3 || s.Failed != 1 || s.SuccessRate != 75 {
		t.Errorf("unexpected tallies %+v", s)
	}
	if s.RunID == "" {
		t.Error("expected run id")
	}

	var out bytes.Buffer
	PrintSummary(&out, s)
	text := out.String()
	for _, want := range []string{"Success Rate: 75.0%", "FAILED TEST DETAILS", "Test Case 2:", "Actual Result: INVALID", "  - ANSWER_ONLY"} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize("gr-1", "DRAFT", time.Now(), nil)
	if s.SuccessRate != 0 || s.TotalTests != 0 {
		t.Errorf("unexpected empty summary %+v", s)
	}

	var out bytes.Buffer
	PrintSummary(&out, s)
	if strings.Contains(out.String(), "FAILED TEST DETAILS") {
		t.Error("no failure details expected")
	}
}

func TestSummary_WriteJSON(t *testing.T) {
	res := NewRunner(&fakeApplier{docs: map[string]string{"a": findingsDoc("valid")}}, RunnerOptions{}).
		RunCase(context.Background(), Case{Number: 1, ExpectedResult: reasoning.ExpectValid, Answer: "a"})
	s := Summarize("gr-1", "1", time.Now(), []*CaseResult{res})

	path := filepath.Join(t.TempDir(), "out", "summary.json")
	if err := s.WriteJSON(path); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		GuardrailID string `json:"guardrail_id"`
		Passed      int    `json:"passed"`
		TestResults []struct {
			ExpectedResult string `json:"expected_result"`
			TestsRun       []struct {
				Result string `json:"automated_reasoning_result"`
			} `json:"tests_run"`
		} `json:"test_results"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("summary is not valid JSON: %v", err)
	}
	if decoded.GuardrailID != "gr-1" || decoded.Passed != 1 {
		t.Errorf("unexpected summary %+v", decoded)
	}
	if decoded.TestResults[0].ExpectedResult != "VALID" || decoded.TestResults[0].TestsRun[0].Result != "VALID" {
		t.Errorf("unexpected case JSON %+v", decoded.TestResults[0])
	}
}
