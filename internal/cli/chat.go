package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/archeck/internal/cache"
	"github.com/ppiankov/archeck/internal/chat"
	"github.com/ppiankov/archeck/internal/config"
	"github.com/ppiankov/archeck/internal/policydoc"
	"github.com/ppiankov/archeck/internal/util"
)

var noCache bool

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a model whose turns are checked by the guardrail",
	Long: `Chat starts an interactive session with a customer-support model that
follows the refund policy. Every turn is checked by the automated reasoning
guardrail and the findings are printed next to the reply.

Backends:
  converse  Bedrock Converse with the guardrail attached (blocked turns are dropped)
  openai    OpenAI-compatible endpoint, guardrail applied before and after the model
  hooks     Bedrock Converse without a guardrail, input and output checked on the side

Example:
  archeck chat
  archeck chat --backend openai
  archeck chat --backend hooks --policy-pdf ./policy.pdf`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().String("backend", chat.BackendConverse, "chat backend (converse, openai, hooks)")
	chatCmd.Flags().String("policy-pdf", "", "policy document appended to the system prompt (.pdf, .txt or .md)")
	chatCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the policy text cache")

	_ = viper.BindPFlag("chat.backend", chatCmd.Flags().Lookup("backend"))
	_ = viper.BindPFlag("policy.pdf_path", chatCmd.Flags().Lookup("policy-pdf"))
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(config.LoadOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	backendKind, err := chat.ParseBackend(cfg.Chat.Backend)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	info := []config.Field{
		{Key: "Backend", Value: backendKind},
		{Key: "Policy Document", Value: cfg.Policy.PDFPath},
	}
	if backendKind == chat.BackendOpenAI {
		info = append(info, config.Field{Key: "Endpoint", Value: cfg.OpenAIEndpoint()})
	}
	config.PrintHeader(out, cfg, "Automated Reasoning Chat", "", info...)

	ok, err := confirmGuardrail(cmd, cfg)
	if err != nil || !ok {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client, err := newGuardrailClient(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var backend chat.Backend
	switch backendKind {
	case chat.BackendOpenAI:
		httpClient, err := util.NewHTTPClient(cfg.HTTP.Proxy, cfg.HTTP.Timeout)
		if err != nil {
			return err
		}
		oc, err := chat.NewOpenAIClient(cfg.Model.OpenAIAPIKey, cfg.OpenAIEndpoint(), httpClient)
		if err != nil {
			return err
		}
		backend = chat.NewOpenAIBackend(oc, client, cfg.Model.ID)
	case chat.BackendHooks:
		backend = chat.NewHooksBackend(client, cfg.Model.ID)
	default:
		backend = chat.NewConverseBackend(client, cfg.Model.ID)
	}

	policyCache := cache.New(cache.Options{
		Enabled: cfg.Cache.Enabled && !noCache,
		Dir:     cfg.Cache.Dir,
		TTL:     cfg.Cache.TTL,
	})
	loader := policydoc.NewLoader(policyCache, logger)
	policyPath := cfg.Policy.PDFPath

	session := chat.NewSession(backend, chat.SessionOptions{
		SystemPrompt: cfg.Model.SystemPrompt,
		Policy:       func() (string, error) { return loader.Load(policyPath) },
		PolicyPath:   policyPath,
		Info:         info,
		In:           cmd.InOrStdin(),
		Out:          out,
		Logger:       logger,
	})

	if err := session.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("chat session: %w", err)
	}
	return nil
}
