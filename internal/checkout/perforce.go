package checkout

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// CommandExecutor abstracts command execution so tests can fake the p4 CLI.
type CommandExecutor interface {
	// Run executes a command in dir and returns its combined output.
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// Run executes a command and returns combined output. The process is
// killed when ctx is done.
func (CLICommandExecutor) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second
	return cmd.CombinedOutput()
}

// PerforceConfig configures the p4 client.
type PerforceConfig struct {
	Binary string
	Port   string
	User   string
	Client string
}

// PerforceBackend opens files with `p4 edit`.
//
// p4 is run with -s so every output line carries a severity prefix
// ("info:", "warning:", "error:", "exit:"), and from the file's directory
// so P4CONFIG files are honored.
type PerforceBackend struct {
	config   PerforceConfig
	executor CommandExecutor
}

// NewPerforceBackend creates a Perforce backend using the real p4 binary.
func NewPerforceBackend(cfg PerforceConfig) *PerforceBackend {
	return NewPerforceBackendWithExecutor(cfg, CLICommandExecutor{})
}

// NewPerforceBackendWithExecutor creates a Perforce backend with a custom executor.
func NewPerforceBackendWithExecutor(cfg PerforceConfig, executor CommandExecutor) *PerforceBackend {
	if cfg.Binary == "" {
		cfg.Binary = "p4"
	}
	return &PerforceBackend{config: cfg, executor: executor}
}

// Name implements Backend.
func (p *PerforceBackend) Name() string {
	return "perforce"
}

// Args returns the p4 arguments used to open path for edit.
func (p *PerforceBackend) Args(path string) []string {
	args := []string{"-s"}
	if p.config.Port != "" {
		args = append(args, "-p", p.config.Port)
	}
	if p.config.User != "" {
		args = append(args, "-u", p.config.User)
	}
	if p.config.Client != "" {
		args = append(args, "-c", p.config.Client)
	}
	return append(args, "edit", path)
}

// OpenForEdit implements Backend.
func (p *PerforceBackend) OpenForEdit(ctx context.Context, path string) Result {
	started := time.Now()
	out, err := p.executor.Run(ctx, filepath.Dir(path), p.config.Binary, p.Args(path)...)
	res := ParseP4Edit(out)
	res.Path = path
	res.Started = started
	res.Duration = time.Since(started)

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			res.Status = Failed
			res.Reason = ctx.Err().Error()
		case errors.As(err, &exitErr):
			// A non-zero exit with a parsed error keeps the parsed reason.
			if res.Status != Failed {
				res.Status = Failed
				res.Reason = fmt.Sprintf("p4 exited with status %d", exitErr.ExitCode())
			}
		default:
			res.Status = Failed
			res.Reason = err.Error()
		}
	}
	return res
}

// ParseP4Edit interprets the output of `p4 -s edit <file>`.
func ParseP4Edit(out []byte) Result {
	var (
		res      = Result{Status: Failed, Output: strings.TrimSpace(string(out))}
		sawInfo  bool
		errLines []string
	)

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		level, msg, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}

		switch level {
		case "info", "info1", "info2":
			lower := strings.ToLower(msg)
			switch {
			case strings.Contains(lower, "currently opened for edit"):
				res.Status = AlreadyEditable
				sawInfo = true
			case strings.Contains(lower, "opened for edit"),
				strings.Contains(lower, "also opened by"):
				if res.Status != AlreadyEditable {
					res.Status = Succeeded
				}
				sawInfo = true
			case strings.Contains(lower, "currently opened for"):
				// Opened for add/branch/integrate already counts as editable.
				res.Status = AlreadyEditable
				sawInfo = true
			}
		case "error":
			errLines = append(errLines, msg)
		case "warning":
			if !sawInfo {
				errLines = append(errLines, msg)
			}
		}
	}

	if len(errLines) > 0 && !sawInfo {
		res.Status = Failed
		res.Reason = strings.Join(errLines, "; ")
	}
	if res.Status == Failed && res.Reason == "" {
		if res.Output == "" {
			res.Reason = "no output from p4"
		} else {
			res.Reason = "unrecognized p4 output"
		}
	}
	return res
}
