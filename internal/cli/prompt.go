package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

type prompter interface {
	ReadPassword(prompt string) (string, error)
	Confirm(prompt string) (bool, error)
}

// readlinePrompter prompts on the controlling terminal. A nil stdin reads
// from the process standard input.
type readlinePrompter struct {
	stdin  io.Reader
	stdout io.Writer
}

func (p *readlinePrompter) config(prompt string) *readline.Config {
	cfg := &readline.Config{
		Prompt:          prompt,
		Stdout:          p.stdout,
		Stderr:          p.stdout,
		InterruptPrompt: "^C",
	}
	if p.stdin != nil {
		noop := func() error { return nil }
		cfg.Stdin = io.NopCloser(p.stdin)
		cfg.FuncIsTerminal = func() bool { return false }
		cfg.FuncMakeRaw = noop
		cfg.FuncExitRaw = noop
	}
	return cfg
}

func (p *readlinePrompter) ReadPassword(prompt string) (string, error) {
	rl, err := readline.NewEx(p.config(""))
	if err != nil {
		return "", fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	password, err := rl.ReadPassword(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}

func (p *readlinePrompter) Confirm(prompt string) (bool, error) {
	rl, err := readline.NewEx(p.config(prompt))
	if err != nil {
		return false, fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	line, err := rl.Readline()
	if err != nil {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
