// Package chat runs interactive sessions against a model guarded by an
// automated reasoning policy.
package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/archeck/internal/config"
	"github.com/ppiankov/archeck/internal/guardrail"
)

// PolicyLoader returns the policy text used as model context
type PolicyLoader func() (string, error)

// SessionOptions configures a Session
type SessionOptions struct {
	SystemPrompt string
	Policy       PolicyLoader
	PolicyPath   string

	// Info is shown by /help and /status
	Info []config.Field

	In     io.Reader
	Out    io.Writer
	Logger *zap.Logger
}

// Session is an interactive conversation. History survives across turns and
// the policy text is loaded once, on the first message.
type Session struct {
	backend      Backend
	systemPrompt string
	loadPolicy   PolicyLoader
	policyPath   string
	info         []config.Field

	history    []guardrail.Message
	policyText string
	loaded     bool

	in     *bufio.Scanner
	out    io.Writer
	logger *zap.Logger
}

// NewSession creates a session for backend
func NewSession(backend Backend, opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	prompt := opts.SystemPrompt
	if prompt == "" {
		prompt = config.DefaultSystemPrompt
	}

	scanner := bufio.NewScanner(opts.In)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &Session{
		backend:      backend,
		systemPrompt: prompt,
		loadPolicy:   opts.Policy,
		policyPath:   opts.PolicyPath,
		info:         opts.Info,
		in:           scanner,
		out:          opts.Out,
		logger:       logger.Named("chat"),
	}
}

// History returns a copy of the conversation so far
func (s *Session) History() []guardrail.Message {
	return append([]guardrail.Message(nil), s.history...)
}

// Run reads lines until a quit command, end of input or ctx is done
func (s *Session) Run(ctx context.Context) error {
	fmt.Fprintln(s.out, titleStyle.Render("Starting interactive session..."))
	fmt.Fprintln(s.out, "Type your message and press Enter. Use /help for commands, /quit to exit.")
	fmt.Fprintln(s.out, strings.Repeat("-", 60))

	for {
		if err := ctx.Err(); err != nil {
			fmt.Fprintln(s.out, "\nSession interrupted. Goodbye!")
			return nil
		}

		fmt.Fprint(s.out, "\n"+userStyle.Render("You:")+" ")
		if !s.in.Scan() {
			if err := s.in.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(s.out, "\nGoodbye!")
			return nil
		}

		if s.Handle(ctx, s.in.Text()) {
			return nil
		}
	}
}

// Handle processes one input line and reports whether the session should end
func (s *Session) Handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	switch strings.ToLower(line) {
	case "/quit", "/exit", "/bye":
		fmt.Fprintln(s.out, "Goodbye!")
		return true
	case "/help":
		s.showHelp()
		return false
	case "/clear":
		s.history = nil
		fmt.Fprintln(s.out, infoStyle.Render("Conversation history cleared"))
		return false
	case "/status":
		s.showStatus()
		return false
	}

	fmt.Fprintln(s.out, strings.Repeat("-", 40))
	s.send(ctx, line)
	fmt.Fprintln(s.out, strings.Repeat("-", 40))
	return false
}

func (s *Session) send(ctx context.Context, message string) {
	system, err := s.system()
	if err != nil {
		fmt.Fprintln(s.out, errorStyle.Render("Error: "+err.Error()))
		return
	}

	s.logger.Debug("sending turn", zap.String("backend", s.backend.Name()), zap.Int("history", len(s.history)))

	turn, err := s.backend.Send(ctx, Request{
		System:  system,
		History: s.History(),
		Message: message,
	})
	if err != nil {
		fmt.Fprintln(s.out, errorStyle.Render("Error: "+err.Error()))
		return
	}

	s.history = append(s.history, guardrail.Message{Role: "user", Content: message})
	if turn.Reply != "" && !turn.Blocked {
		s.history = append(s.history, guardrail.Message{Role: "assistant", Content: turn.Reply})
	}

	s.render(turn)
}

// system builds the system prompt, loading the policy on first use
func (s *Session) system() (string, error) {
	if !s.loaded && s.loadPolicy != nil {
		text, err := s.loadPolicy()
		if err != nil {
			return "", err
		}
		s.policyText = text
		s.loaded = true
	}
	if s.policyText == "" {
		return s.systemPrompt, nil
	}
	return s.systemPrompt + "\n\nREFUND POLICY:\n" + s.policyText, nil
}

func (s *Session) render(turn *Turn) {
	if turn.Reply != "" && turn.BlockedStage != "input" {
		fmt.Fprintln(s.out, "\n"+assistantStyle.Render("Assistant:")+" "+turn.Reply)
	}

	if turn.Blocked {
		msg := "Guardrail intervened - content blocked"
		if turn.BlockedStage != "" {
			msg = fmt.Sprintf("Guardrail intervened at %s stage - content blocked", turn.BlockedStage)
		}
		fmt.Fprintln(s.out, "\n"+blockedStyle.Render(msg))
	}

	for _, stage := range turn.Stages {
		if stage.Err != nil {
			fmt.Fprintln(s.out, errorStyle.Render(fmt.Sprintf("[GUARDRAIL] %s evaluation failed: %v", stage.Name, stage.Err)))
			continue
		}
		if stage.Intervened && !turn.Blocked {
			fmt.Fprintln(s.out, "\n"+blockedStyle.Render(fmt.Sprintf("Guardrail intervened on %s", stage.Name)))
		}
		if len(stage.Findings) == 0 {
			continue
		}
		label := "Automated Reasoning Findings"
		if stage.Name == "input" || stage.Name == "output" {
			label = fmt.Sprintf("Automated Reasoning Findings (%s)", stage.Name)
		}
		fmt.Fprintln(s.out, "\n"+titleStyle.Render(label+":"))
		fmt.Fprint(s.out, formatFindings(stage.Findings))
	}

	if turn.Usage != nil {
		fmt.Fprintln(s.out, "\n"+infoStyle.Render(fmt.Sprintf("Usage: Input tokens: %d, Output tokens: %d, Total: %d",
			turn.Usage.InputTokens, turn.Usage.OutputTokens, turn.Usage.TotalTokens)))
	}
}

func (s *Session) showHelp() {
	var b strings.Builder
	b.WriteString("Commands:\n")
	b.WriteString("  /help    - Show this help message\n")
	b.WriteString("  /quit    - Exit the program\n")
	b.WriteString("  /exit    - Exit the program\n")
	b.WriteString("  /bye     - Exit the program\n")
	b.WriteString("  /clear   - Clear conversation history\n")
	b.WriteString("  /status  - Show current configuration\n")
	b.WriteString("\nConfiguration:\n")
	b.WriteString(fmt.Sprintf("  Backend: %s\n", s.backend.Name()))
	for _, f := range s.info {
		b.WriteString(fmt.Sprintf("  %s: %v\n", f.Key, f.Value))
	}
	b.WriteString("\nType a message and press Enter. The guardrail checks every interaction.")

	fmt.Fprintln(s.out, titleStyle.Render("Interactive Automated Reasoning Policy Tester Help"))
	fmt.Fprintln(s.out, boxStyle.Render(b.String()))
}

func (s *Session) showStatus() {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Backend: %s\n", s.backend.Name()))
	for _, f := range s.info {
		b.WriteString(fmt.Sprintf("%s: %v\n", f.Key, f.Value))
	}
	b.WriteString(fmt.Sprintf("Conversation Messages: %d\n", len(s.history)))
	b.WriteString(fmt.Sprintf("Policy Loaded: %t", s.loaded))
	if s.policyPath != "" {
		b.WriteString(fmt.Sprintf("\nPolicy Path: %s", s.policyPath))
	}

	fmt.Fprintln(s.out, titleStyle.Render("Current Configuration"))
	fmt.Fprintln(s.out, boxStyle.Render(b.String()))
}
