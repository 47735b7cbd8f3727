// Package config loads archeck configuration from .env files, environment
// variables and an optional YAML config file.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	PlaceholderGuardrailID  = "YOUR_GUARDRAIL_ID"
	DefaultGuardrailVersion = "DRAFT"
	DefaultAWSRegion        = "us-east-1"
	DefaultModelID          = "us.amazon.nova-lite-v1:0"
	DefaultOpenAIModelID    = "openai.gpt-oss-20b-1:0"
	DefaultTestCasesFile    = "automated_reasoning_test_cases.json"
	DefaultPolicyPDF        = "./docs/Customer Support Refund Policy.pdf"
)

// Config is the complete archeck configuration
type Config struct {
	Guardrail GuardrailConfig `yaml:"guardrail" mapstructure:"guardrail"`
	AWS       AWSConfig       `yaml:"aws" mapstructure:"aws"`
	Model     ModelConfig     `yaml:"model" mapstructure:"model"`
	Runner    RunnerConfig    `yaml:"runner" mapstructure:"runner"`
	Chat      ChatConfig      `yaml:"chat" mapstructure:"chat"`
	Policy    PolicyConfig    `yaml:"policy" mapstructure:"policy"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	HTTP      HTTPConfig      `yaml:"http" mapstructure:"http"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
}

// GuardrailConfig identifies the guardrail under test
type GuardrailConfig struct {
	ID      string `yaml:"id" mapstructure:"id"`
	Version string `yaml:"version" mapstructure:"version"`
}

// AWSConfig selects the AWS region and shared-config profile
type AWSConfig struct {
	Region  string `yaml:"region" mapstructure:"region"`
	Profile string `yaml:"profile,omitempty" mapstructure:"profile"`
}

// ModelConfig configures the chat model
type ModelConfig struct {
	ID            string `yaml:"id" mapstructure:"id"`
	OpenAIAPIKey  string `yaml:"-" mapstructure:"openai_api_key"` // env only
	OpenAIBaseURL string `yaml:"openai_base_url,omitempty" mapstructure:"openai_base_url"`
	SystemPrompt  string `yaml:"system_prompt" mapstructure:"system_prompt"`
}

// RunnerConfig configures the test-case runner
type RunnerConfig struct {
	TestCasesFile     string  `yaml:"test_cases_file" mapstructure:"test_cases_file"`
	Concurrency       int     `yaml:"concurrency" mapstructure:"concurrency"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// ChatConfig selects the chat backend (converse, openai or hooks)
type ChatConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"`
}

// PolicyConfig points at the policy document used as chat context
type PolicyConfig struct {
	PDFPath string `yaml:"pdf_path" mapstructure:"pdf_path"`
}

// CacheConfig configures the policy-text cache
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir     string        `yaml:"dir" mapstructure:"dir"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// HTTPConfig configures the HTTP client used for AWS and OpenAI calls
type HTTPConfig struct {
	Proxy   string        `yaml:"proxy,omitempty" mapstructure:"proxy"` // empty: HTTPS_PROXY/NO_PROXY from env
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// OutputConfig controls console output
type OutputConfig struct {
	Verbose bool `yaml:"verbose" mapstructure:"verbose"`
}

// DefaultSystemPrompt is the customer-support persona used in chat sessions
const DefaultSystemPrompt = "You are a customer support agent. You follow the provided refund policy. Reply with max 10 words"

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	cacheDir := ".archeck-cache"
	if home, err := os.UserHomeDir(); err == nil {
		cacheDir = filepath.Join(home, ".archeck", "cache")
	}

	return &Config{
		Guardrail: GuardrailConfig{
			ID:      PlaceholderGuardrailID,
			Version: DefaultGuardrailVersion,
		},
		AWS: AWSConfig{
			Region: DefaultAWSRegion,
		},
		Model: ModelConfig{
			ID:           DefaultModelID,
			SystemPrompt: DefaultSystemPrompt,
		},
		Runner: RunnerConfig{
			TestCasesFile:     DefaultTestCasesFile,
			Concurrency:       1,
			RequestsPerSecond: 5,
			Burst:             1,
		},
		Chat: ChatConfig{
			Backend: "converse",
		},
		Policy: PolicyConfig{
			PDFPath: DefaultPolicyPDF,
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     cacheDir,
			TTL:     24 * time.Hour,
		},
		HTTP: HTTPConfig{
			Timeout: 2 * time.Minute,
		},
	}
}

// envBindings maps config keys to the environment variables the demos use
var envBindings = map[string]string{
	"guardrail.id":           "GUARDRAIL_ID",
	"guardrail.version":      "GUARDRAIL_VERSION",
	"aws.region":             "AWS_REGION",
	"aws.profile":            "AWS_PROFILE",
	"model.id":               "MODEL_ID",
	"model.openai_api_key":   "OPENAI_API_KEY",
	"model.openai_base_url":  "OPENAI_BASE_URL",
	"runner.test_cases_file": "TEST_CASES_FILE",
	"chat.backend":           "CHAT_BACKEND",
	"policy.pdf_path":        "POLICY_PDF",
	"http.proxy":             "ARCHECK_PROXY",
}

// LoadOptions tweak defaults for a specific command
type LoadOptions struct {
	// UseOpenAIModel switches the default model to the OpenAI-compatible
	// one. It is implied when chat.backend is "openai".
	UseOpenAIModel bool
	// DotEnvFiles are loaded before reading the environment (default: .env)
	DotEnvFiles []string
}

// Load builds the configuration. Precedence: flags bound on v, environment
// (including .env), config file already read into v, defaults.
func Load(v *viper.Viper, opts LoadOptions) (*Config, error) {
	// .env is optional
	_ = godotenv.Load(opts.DotEnvFiles...)

	cfg := DefaultConfig()
	setDefaults(v, cfg)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	if opts.UseOpenAIModel || strings.EqualFold(strings.TrimSpace(v.GetString("chat.backend")), "openai") {
		v.SetDefault("model.id", DefaultOpenAIModelID)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Runner.Concurrency < 1 {
		cfg.Runner.Concurrency = 1
	}
	if cfg.Guardrail.ID == "" {
		cfg.Guardrail.ID = PlaceholderGuardrailID
	}
	if cfg.Guardrail.Version == "" {
		cfg.Guardrail.Version = DefaultGuardrailVersion
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("guardrail.id", cfg.Guardrail.ID)
	v.SetDefault("guardrail.version", cfg.Guardrail.Version)
	v.SetDefault("aws.region", cfg.AWS.Region)
	v.SetDefault("aws.profile", cfg.AWS.Profile)
	v.SetDefault("model.id", cfg.Model.ID)
	v.SetDefault("model.openai_api_key", "")
	v.SetDefault("model.openai_base_url", "")
	v.SetDefault("model.system_prompt", cfg.Model.SystemPrompt)
	v.SetDefault("runner.test_cases_file", cfg.Runner.TestCasesFile)
	v.SetDefault("runner.concurrency", cfg.Runner.Concurrency)
	v.SetDefault("runner.requests_per_second", cfg.Runner.RequestsPerSecond)
	v.SetDefault("runner.burst", cfg.Runner.Burst)
	v.SetDefault("chat.backend", cfg.Chat.Backend)
	v.SetDefault("policy.pdf_path", cfg.Policy.PDFPath)
	v.SetDefault("cache.enabled", cfg.Cache.Enabled)
	v.SetDefault("cache.dir", cfg.Cache.Dir)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("http.proxy", cfg.HTTP.Proxy)
	v.SetDefault("http.timeout", cfg.HTTP.Timeout)
	v.SetDefault("output.verbose", cfg.Output.Verbose)
}

// UsingPlaceholderGuardrail reports whether no real guardrail ID was configured
func (c *Config) UsingPlaceholderGuardrail() bool {
	return c.Guardrail.ID == PlaceholderGuardrailID
}

// OpenAIEndpoint returns the OpenAI-compatible Bedrock endpoint for the region
func (c *Config) OpenAIEndpoint() string {
	if c.Model.OpenAIBaseURL != "" {
		return c.Model.OpenAIBaseURL
	}
	return fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/openai/v1", c.AWS.Region)
}

// ConfirmPlaceholder warns about the placeholder guardrail ID and asks
// whether to continue. Anything other than "y" declines.
func ConfirmPlaceholder(in io.Reader, out io.Writer) (bool, error) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "⚠️  Warning: Using default guardrail ID. Set GUARDRAIL_ID environment variable or config file.")
	fmt.Fprintln(out, "Example: export GUARDRAIL_ID=your-actual-guardrail-id")
	fmt.Fprint(out, "\nDo you want to continue with the default ID? (y/n): ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read answer: %w", err)
	}
	return strings.ToLower(strings.TrimSpace(line)) == "y", nil
}

// Field is one extra line in a configuration header
type Field struct {
	Key   string
	Value string
}

// PrintHeader prints the configuration banner shown at command start
func PrintHeader(w io.Writer, cfg *Config, title string, testCasesFile string, extra ...Field) {
	rule := strings.Repeat("=", 80)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, rule)
	if testCasesFile != "" {
		fmt.Fprintf(w, "Test Cases File: %s\n", testCasesFile)
	}
	fmt.Fprintf(w, "Guardrail ID: %s\n", cfg.Guardrail.ID)
	fmt.Fprintf(w, "Guardrail Version: %s\n", cfg.Guardrail.Version)
	fmt.Fprintf(w, "AWS Region: %s\n", cfg.AWS.Region)
	fmt.Fprintf(w, "Model ID: %s\n", cfg.Model.ID)
	for _, f := range extra {
		fmt.Fprintf(w, "%s: %s\n", f.Key, f.Value)
	}
	fmt.Fprintln(w, rule)
}
