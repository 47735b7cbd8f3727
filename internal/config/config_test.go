package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envBindings {
		t.Setenv(env, "")
		_ = os.Unsetenv(env)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(viper.New(), LoadOptions{DotEnvFiles: []string{filepath.Join(t.TempDir(), "missing.env")}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Guardrail.ID != PlaceholderGuardrailID {
		t.Errorf("expected placeholder guardrail ID, got %s", cfg.Guardrail.ID)
	}
	if !cfg.UsingPlaceholderGuardrail() {
		t.Error("expected UsingPlaceholderGuardrail to be true")
	}
	if cfg.Guardrail.Version != DefaultGuardrailVersion {
		t.Errorf("expected version %s, got %s", DefaultGuardrailVersion, cfg.Guardrail.Version)
	}
	if cfg.AWS.Region != DefaultAWSRegion {
		t.Errorf("expected region %s, got %s", DefaultAWSRegion, cfg.AWS.Region)
	}
	if cfg.Model.ID != DefaultModelID {
		t.Errorf("expected model %s, got %s", DefaultModelID, cfg.Model.ID)
	}
	if cfg.Runner.TestCasesFile != DefaultTestCasesFile {
		t.Errorf("expected test cases file %s, got %s", DefaultTestCasesFile, cfg.Runner.TestCasesFile)
	}
}

func TestLoad_OpenAIModelDefault(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(viper.New(), LoadOptions{UseOpenAIModel: true, DotEnvFiles: []string{filepath.Join(t.TempDir(), "missing.env")}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Model.ID != DefaultOpenAIModelID {
		t.Errorf("expected model %s, got %s", DefaultOpenAIModelID, cfg.Model.ID)
	}
}

func TestLoad_OpenAIBackendSelectsModel(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHAT_BACKEND", "openai")

	cfg, err := Load(viper.New(), LoadOptions{DotEnvFiles: []string{filepath.Join(t.TempDir(), "missing.env")}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Chat.Backend != "openai" {
		t.Errorf("expected openai backend, got %s", cfg.Chat.Backend)
	}
	if cfg.Model.ID != DefaultOpenAIModelID {
		t.Errorf("expected model %s, got %s", DefaultOpenAIModelID, cfg.Model.ID)
	}

	t.Setenv("MODEL_ID", "custom-model")
	cfg, err = Load(viper.New(), LoadOptions{DotEnvFiles: []string{filepath.Join(t.TempDir(), "missing.env")}})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model.ID != "custom-model" {
		t.Errorf("explicit model should win, got %s", cfg.Model.ID)
	}
}

func TestLoad_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("GUARDRAIL_ID", "gr-123")
	t.Setenv("GUARDRAIL_VERSION", "3")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("MODEL_ID", "custom-model")
	t.Setenv("TEST_CASES_FILE", "cases.json")

	cfg, err := Load(viper.New(), LoadOptions{DotEnvFiles: []string{filepath.Join(t.TempDir(), "missing.env")}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Guardrail.ID != "gr-123" || cfg.Guardrail.Version != "3" {
		t.Errorf("unexpected guardrail %+v", cfg.Guardrail)
	}
	if cfg.UsingPlaceholderGuardrail() {
		t.Error("expected real guardrail ID")
	}
	if cfg.AWS.Region != "eu-west-1" {
		t.Errorf("expected eu-west-1, got %s", cfg.AWS.Region)
	}
	if cfg.Model.ID != "custom-model" {
		t.Errorf("expected custom-model, got %s", cfg.Model.ID)
	}
	if cfg.Runner.TestCasesFile != "cases.json" {
		t.Errorf("expected cases.json, got %s", cfg.Runner.TestCasesFile)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)

	envFile := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(envFile, []byte("GUARDRAIL_ID=from-dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("GUARDRAIL_ID") })

	cfg, err := Load(viper.New(), LoadOptions{DotEnvFiles: []string{envFile}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Guardrail.ID != "from-dotenv" {
		t.Errorf("expected guardrail from .env, got %s", cfg.Guardrail.ID)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "guardrail:\n  id: file-gr\nrunner:\n  concurrency: 4\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("read config: %v", err)
	}

	cfg, err := Load(v, LoadOptions{DotEnvFiles: []string{filepath.Join(t.TempDir(), "missing.env")}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Guardrail.ID != "file-gr" {
		t.Errorf("expected file-gr, got %s", cfg.Guardrail.ID)
	}
	if cfg.Runner.Concurrency != 4 {
		t.Errorf("expected concurrency 4, got %d", cfg.Runner.Concurrency)
	}
}

func TestOpenAIEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AWS.Region = "us-west-2"
	if got := cfg.OpenAIEndpoint(); got != "https://bedrock-runtime.us-west-2.amazonaws.com/openai/v1" {
		t.Errorf("unexpected endpoint %s", got)
	}

	cfg.Model.OpenAIBaseURL = "http://localhost:9999/v1"
	if got := cfg.OpenAIEndpoint(); got != "http://localhost:9999/v1" {
		t.Errorf("expected override, got %s", got)
	}
}

func TestConfirmPlaceholder(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"Y\n", true},
		{"n\n", false},
		{"yes\n", false},
		{"", false},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		got, err := ConfirmPlaceholder(strings.NewReader(tt.input), &out)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("%q: expected %v, got %v", tt.input, tt.want, got)
		}
		if !strings.Contains(out.String(), "GUARDRAIL_ID") {
			t.Errorf("expected warning mentioning GUARDRAIL_ID, got %q", out.String())
		}
	}
}

func TestPrintHeader(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Guardrail.ID = "gr-1"

	var out bytes.Buffer
	PrintHeader(&out, cfg, "Automated Reasoning Policy Test Runner", "cases.json", Field{Key: "Total Test Cases", Value: "3"})

	text := out.String()
	for _, want := range []string{"Automated Reasoning Policy Test Runner", "Test Cases File: cases.json", "Guardrail ID: gr-1", "Total Test Cases: 3"} {
		if !strings.Contains(text, want) {
			t.Errorf("header missing %q:\n%s", want, text)
		}
	}
}
