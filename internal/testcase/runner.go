package testcase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ppiankov/archeck/internal/guardrail"
	"github.com/ppiankov/archeck/internal/reasoning"
	"github.com/ppiankov/archeck/internal/worker"
)

// ActionError marks a check whose guardrail call failed
const ActionError = "ERROR"

// Applier applies a guardrail to content
type Applier interface {
	Apply(ctx context.Context, content guardrail.Content, source guardrail.Source) (*guardrail.Response, error)
}

// Check is one guardrail call made for a case
type Check struct {
	Type        guardrail.Kind      `json:"type"`
	Content     string              `json:"content"`
	Action      string              `json:"action"`
	Usage       map[string]int64    `json:"usage"`
	Assessments json.RawMessage     `json:"assessments"`
	Result      reasoning.Result    `json:"automated_reasoning_result"`
	Findings    []reasoning.Finding `json:"automated_reasoning_findings"`
	Error       string              `json:"error,omitempty"`
}

// CaseResult is the outcome of one test case
type CaseResult struct {
	Number         int                      `json:"number"`
	ExpectedResult reasoning.ExpectedResult `json:"expected_result"`
	TestsRun       []Check                  `json:"tests_run"`
	OverallAction  string                   `json:"overall_action"`
	TestPassed     bool                     `json:"test_passed"`

	err error
}

// GetError returns the guardrail call error, if any
func (r *CaseResult) GetError() error {
	return r.err
}

// RunnerOptions configures a Runner
type RunnerOptions struct {
	Concurrency int
	Logger      *zap.Logger

	// Progress receives a per-case report as each case finishes
	Progress io.Writer
}

// Runner executes test cases against a guardrail
type Runner struct {
	applier     Applier
	concurrency int
	logger      *zap.Logger
	progress    io.Writer
	mu          sync.Mutex
}

// NewRunner creates a runner
func NewRunner(applier Applier, opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Runner{
		applier:     applier,
		concurrency: opts.Concurrency,
		logger:      logger.Named("runner"),
		progress:    opts.Progress,
	}
}

// RunCase applies the guardrail to one case and evaluates the outcome.
// Automated reasoning checks always use the OUTPUT source.
func (r *Runner) RunCase(ctx context.Context, c Case) *CaseResult {
	content := c.Content()
	check := Check{
		Type:        content.Kind(),
		Content:     content.Summary(),
		Action:      ActionError,
		Usage:       map[string]int64{},
		Assessments: json.RawMessage("[]"),
		Findings:    []reasoning.Finding{},
	}

	result := &CaseResult{
		Number:         c.Number,
		ExpectedResult: c.ExpectedResult,
	}

	resp, err := r.applier.Apply(ctx, content, guardrail.SourceOutput)
	if err != nil {
		r.logger.Warn("guardrail call failed", zap.Int("test", c.Number), zap.Error(err))
		check.Error = err.Error()
		result.err = err
	} else {
		if resp.Action != "" {
			check.Action = resp.Action
		}
		if resp.Usage != nil {
			check.Usage = resp.Usage
		}
		check.Assessments = assessmentsOf(resp.Document)
		check.Findings = reasoning.ExtractFindingsJSON(resp.Document)
		check.Result = reasoning.LastResult(check.Findings)
	}

	result.TestsRun = []Check{check}
	result.OverallAction = ActionError
	if check.Result != reasoning.ResultNone {
		result.OverallAction = string(check.Result)
	}
	result.TestPassed = reasoning.Evaluate(check.Result, c.ExpectedResult)

	r.report(c, result)
	return result
}

// Run executes cases through the worker pool and returns results in case order
func (r *Runner) Run(ctx context.Context, cases []Case) []*CaseResult {
	pool := worker.NewPool(ctx, r.concurrency)
	pool.Start()

	for _, c := range cases {
		pool.Submit(worker.JobFunc(func(ctx context.Context) worker.Result {
			return r.RunCase(ctx, c)
		}))
	}

	raw := pool.Wait()
	results := make([]*CaseResult, len(cases))
	for i, res := range raw {
		if cr, ok := res.(*CaseResult); ok {
			results[i] = cr
			continue
		}
		// the job never ran (context cancelled before dispatch)
		results[i] = cancelledResult(ctx, cases[i])
	}
	return results
}

func cancelledResult(ctx context.Context, c Case) *CaseResult {
	err := ctx.Err()
	if err == nil {
		err = context.Canceled
	}
	content := c.Content()
	return &CaseResult{
		Number:         c.Number,
		ExpectedResult: c.ExpectedResult,
		TestsRun: []Check{{
			Type:        content.Kind(),
			Content:     content.Summary(),
			Action:      ActionError,
			Usage:       map[string]int64{},
			Assessments: json.RawMessage("[]"),
			Findings:    []reasoning.Finding{},
			Error:       err.Error(),
		}},
		OverallAction: ActionError,
		err:           err,
	}
}

func assessmentsOf(doc json.RawMessage) json.RawMessage {
	var view struct {
		Assessments json.RawMessage `json:"assessments"`
	}
	if err := json.Unmarshal(doc, &view); err != nil || len(view.Assessments) == 0 {
		return json.RawMessage("[]")
	}
	return view.Assessments
}

func (r *Runner) report(c Case, res *CaseResult) {
	if r.progress == nil {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n", strings.Repeat("-", 80))
	fmt.Fprintf(&b, "Running test case %d\n", c.Number)
	if c.Question != "" {
		fmt.Fprintf(&b, "Question: %s\n", c.Question)
	}
	if c.Answer != "" {
		fmt.Fprintf(&b, "Answer: %s\n", c.Answer)
	}
	fmt.Fprintf(&b, "Expected: %s\n", c.ExpectedResult)

	for _, check := range res.TestsRun {
		if check.Error != "" {
			fmt.Fprintf(&b, "Error applying guardrail: %s\n", check.Error)
		}
		for _, f := range check.Findings {
			result := string(f.Result)
			if result == "" {
				result = "None"
			}
			fmt.Fprintf(&b, "Result: %s\n", result)
			for _, rule := range f.AllRules() {
				fmt.Fprintf(&b, "- Rule ID: %s\n", orUnknown(rule.Identifier()))
				fmt.Fprintf(&b, "  Policy: %s\n", orUnknown(rule.PolicyVersionArn()))
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	io.WriteString(r.progress, b.String())
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
