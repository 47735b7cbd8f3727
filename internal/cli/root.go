package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ppiankov/archeck/internal/config"
	"github.com/ppiankov/archeck/internal/guardrail"
	"github.com/ppiankov/archeck/internal/logging"
	"github.com/ppiankov/archeck/internal/util"
	"github.com/ppiankov/archeck/internal/worker"
)

// Version is set at build time
var Version = "dev"

var (
	cfgFile     string
	verbose     bool
	assumeYes   bool
	regionFlag  string
	profileFlag string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "archeck",
	Short: "archeck - automated reasoning guardrail checks for Amazon Bedrock",
	Long: `archeck exercises Amazon Bedrock guardrails that carry an automated
reasoning policy.

It runs JSON test suites against ApplyGuardrail and compares the reported
findings with the expected result, hosts an interactive chat whose turns are
checked by the guardrail, and exports policies as CloudFormation templates.

Findings are normalized into one shape whichever API produced them.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number of archeck.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "archeck %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.archeck/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation when using the placeholder guardrail ID")
	rootCmd.PersistentFlags().StringVar(&regionFlag, "region", "", "AWS region (overrides AWS_REGION)")
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "AWS shared config profile")

	// Bind flags to viper
	_ = viper.BindPFlag("output.verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("aws.region", rootCmd.PersistentFlags().Lookup("region"))
	_ = viper.BindPFlag("aws.profile", rootCmd.PersistentFlags().Lookup("profile"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}

		viper.AddConfigPath(filepath.Join(home, ".archeck"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Read in environment variables that match ARCHECK_*
	viper.SetEnvPrefix("ARCHECK")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig resolves the configuration for a command
func loadConfig(opts config.LoadOptions) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(viper.GetViper(), opts)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(cfg.Output.Verbose), nil
}

// confirmGuardrail asks before running against the placeholder guardrail ID
func confirmGuardrail(cmd *cobra.Command, cfg *config.Config) (bool, error) {
	if !cfg.UsingPlaceholderGuardrail() || assumeYes {
		return true, nil
	}
	ok, err := config.ConfirmPlaceholder(cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return false, err
	}
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "Exiting...")
	}
	return ok, nil
}

// loadAWS resolves AWS credentials and region for cfg
func loadAWS(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	httpClient, err := util.NewHTTPClient(cfg.HTTP.Proxy, cfg.HTTP.Timeout)
	if err != nil {
		return aws.Config{}, err
	}
	return guardrail.LoadAWS(ctx, guardrail.AWSConfig{
		Region:     cfg.AWS.Region,
		Profile:    cfg.AWS.Profile,
		HTTPClient: httpClient,
	})
}

// newGuardrailClient wires the Bedrock runtime client for cfg
func newGuardrailClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*guardrail.Client, error) {
	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return guardrail.New(guardrail.NewRuntimeAPI(awsCfg), guardrail.Options{
		GuardrailID:      cfg.Guardrail.ID,
		GuardrailVersion: cfg.Guardrail.Version,
		Limiter:          worker.NewLimiter(cfg.Runner.RequestsPerSecond, cfg.Runner.Burst),
		Logger:           logger,
	}), nil
}
