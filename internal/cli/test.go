package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ppiankov/archeck/internal/config"
	"github.com/ppiankov/archeck/internal/testcase"
)

var (
	testNumber  int
	concurrency int
	testOutJSON string
	repairJSON  bool
)

// testCmd represents the test command
var testCmd = &cobra.Command{
	Use:   "test [test-cases.json]",
	Short: "Run automated reasoning test cases against a guardrail",
	Long: `Test applies a guardrail to every case in a JSON test file and compares
the automated reasoning result with the expected one.

The file holds {"test_cases": [{"expected_result": "VALID", "question": "...",
"answer": "..."}]}. Expected results are VALID, INVALID or SATISFIABLE.

Example:
  archeck test
  archeck test cases.json --test 3
  archeck test --concurrency 4 --json results.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTest,
}

func init() {
	rootCmd.AddCommand(testCmd)

	testCmd.Flags().IntVar(&testNumber, "test", 0, "run only test number N (1-based)")
	testCmd.Flags().IntVar(&concurrency, "concurrency", 1, "number of test cases run in parallel")
	testCmd.Flags().StringVar(&testOutJSON, "json", "", "write the summary as JSON to this path")
	testCmd.Flags().BoolVar(&repairJSON, "repair-json", false, "attempt to repair a malformed test file")

	_ = viper.BindPFlag("runner.concurrency", testCmd.Flags().Lookup("concurrency"))
}

func runTest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(config.LoadOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	path := cfg.Runner.TestCasesFile
	if len(args) == 1 {
		path = args[0]
	}

	out := cmd.OutOrStdout()
	extra := []config.Field{{Key: "Concurrency", Value: fmt.Sprint(cfg.Runner.Concurrency)}}
	if testNumber > 0 {
		extra = append(extra, config.Field{Key: "Running Test", Value: fmt.Sprintf("#%d", testNumber)})
	}
	config.PrintHeader(out, cfg, "Automated Reasoning Guardrail Test Runner", path, extra...)

	ok, err := confirmGuardrail(cmd, cfg)
	if err != nil || !ok {
		return err
	}

	cases, err := testcase.Load(path, testcase.LoadOptions{Repair: repairJSON, Logger: logger})
	if err != nil {
		return err
	}
	if testNumber > 0 {
		if cases, err = testcase.Select(cases, testNumber); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "\nLoaded %d test case(s)\n", len(cases))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client, err := newGuardrailClient(ctx, cfg, logger)
	if err != nil {
		return err
	}

	startedAt := time.Now()
	runner := testcase.NewRunner(client, testcase.RunnerOptions{
		Concurrency: cfg.Runner.Concurrency,
		Logger:      logger,
		Progress:    out,
	})
	results := runner.Run(ctx, cases)

	summary := testcase.Summarize(client.GuardrailID(), client.GuardrailVersion(), startedAt, results)
	if testNumber > 0 {
		summary.SingleTestNumber = testNumber
	}
	testcase.PrintSummary(out, summary)

	logger.Debug("test run finished",
		zap.String("run_id", summary.RunID),
		zap.Duration("elapsed", time.Since(startedAt)),
	)

	if testOutJSON != "" {
		if err := summary.WriteJSON(testOutJSON); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n✓ Results written to %s\n", testOutJSON)
	}

	if ctx.Err() != nil {
		return errors.New("test run interrupted")
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d test(s) failed", summary.Failed, summary.TotalTests)
	}
	return nil
}
