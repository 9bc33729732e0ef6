package transport

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"relaybot/internal/domain"
)

// Runner executes an external command and returns its captured output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

type SignalCLIConfig struct {
	Account        string // E.164 number registered with signal-cli
	Binary         string
	ReceiveTimeout int // seconds signal-cli waits for new messages
	Runner         Runner
	Logger         *slog.Logger
}

// SignalCLI drives the signal-cli command line client as a subprocess.
// Each call spawns a new process, so concurrent Send and Poll calls are safe.
type SignalCLI struct {
	account        string
	binary         string
	receiveTimeout int
	runner         Runner
	logger         *slog.Logger
}

func NewSignalCLI(cfg SignalCLIConfig) (*SignalCLI, error) {
	if cfg.Account == "" {
		return nil, fmt.Errorf("signal-cli: account number is required")
	}
	if cfg.Binary == "" {
		cfg.Binary = "signal-cli"
	}
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = 5
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SignalCLI{
		account:        cfg.Account,
		binary:         cfg.Binary,
		receiveTimeout: cfg.ReceiveTimeout,
		runner:         cfg.Runner,
		logger:         cfg.Logger,
	}, nil
}

func (s *SignalCLI) Name() string { return "signal-cli" }

// Account is the address replies are sent from.
func (s *SignalCLI) Account() string { return s.account }

func (s *SignalCLI) Send(ctx context.Context, address, text string) error {
	_, stderr, err := s.runner.Run(ctx, s.binary, "-a", s.account, "send", address, "-m", text)
	if err != nil {
		return domain.NewError(domain.KindTransportUnavailable, "signal-cli send", commandError(err, stderr))
	}
	s.logger.Debug("signal message sent", "to", address, "len", len(text))
	return nil
}

func (s *SignalCLI) Poll(ctx context.Context) ([]domain.InboundEvent, error) {
	stdout, stderr, err := s.runner.Run(ctx, s.binary,
		"-a", s.account, "receive", "--json", "--timeout", strconv.Itoa(s.receiveTimeout))
	if err != nil {
		return nil, domain.NewError(domain.KindTransportUnavailable, "signal-cli receive", commandError(err, stderr))
	}

	events, skipped := ParseEvents(stdout, s.account)
	if skipped > 0 {
		s.logger.Warn("skipped malformed signal-cli output lines", "count", skipped)
	}
	return events, nil
}

// Healthy checks that the binary can be executed.
func (s *SignalCLI) Healthy(ctx context.Context) error {
	if _, stderr, err := s.runner.Run(ctx, s.binary, "--version"); err != nil {
		return domain.NewError(domain.KindTransportUnavailable, "signal-cli --version", commandError(err, stderr))
	}
	return nil
}

// ValidateAddress requires an E.164 style number.
func (s *SignalCLI) ValidateAddress(address string) error {
	if !strings.HasPrefix(address, "+") || len(address) < 2 {
		return domain.NewError(domain.KindValidation, "recipient must be a phone number starting with +", nil)
	}
	return nil
}

// commandError attaches stderr to the exit error so the log shows why
// signal-cli failed.
func commandError(err error, stderr []byte) error {
	if msg := strings.TrimSpace(string(stderr)); msg != "" {
		return fmt.Errorf("%w: %s", err, msg)
	}
	return err
}
