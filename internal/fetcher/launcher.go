package fetcher

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Exit codes of the launcher shim.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitMissingRom  = 2
	ExitRomNotFound = 3
)

// ParseArgs reads "-key value" pairs. A flag without a value is ignored.
func ParseArgs(args []string) map[string]string {
	out := make(map[string]string)
	for i := 0; i+1 < len(args); i += 2 {
		if !strings.HasPrefix(args[i], "-") {
			continue
		}
		out[strings.TrimLeft(args[i], "-")] = args[i+1]
	}
	return out
}

// Launcher stands in front of the real emulator launcher and resolves the
// requested rom first when it is a stub.
type Launcher struct {
	command  string
	pipeline *Pipeline
	progress ProgressFunc
}

func NewLauncher(command string, pipeline *Pipeline, progress ProgressFunc) *Launcher {
	return &Launcher{command: command, pipeline: pipeline, progress: progress}
}

// Launch returns the process exit code to use.
func (l *Launcher) Launch(ctx context.Context, args []string) int {
	logger := logutil.GetLogger(ctx)
	logger.Info("launcher invoked", zap.Strings("args", args))

	if code := l.prepare(ctx, ParseArgs(args)); code != ExitOK {
		return code
	}
	return l.run(ctx, args)
}

func (l *Launcher) prepare(ctx context.Context, args map[string]string) int {
	logger := logutil.GetLogger(ctx)
	rom := strings.Trim(strings.TrimSpace(args["rom"]), `"`)
	if rom == "" {
		logger.Error("launcher called without -rom")
		return ExitMissingRom
	}
	if _, err := os.Stat(rom); err != nil {
		logger.Error("rom file not found", zap.String("rom", rom), zap.Error(err))
		return ExitRomNotFound
	}
	if l.pipeline == nil {
		return ExitOK
	}
	err := l.pipeline.Resolve(ctx, rom, l.progress)
	if err == nil || errors.Is(err, ErrNotStub) {
		return ExitOK
	}
	return ExitFailure
}

func (l *Launcher) run(ctx context.Context, args []string) int {
	logger := logutil.GetLogger(ctx)
	cmd := exec.CommandContext(ctx, l.command, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	err := cmd.Run()
	if err == nil {
		return ExitOK
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		logger.Info("launcher exited", zap.String("command", l.command), zap.Int("code", exitErr.ExitCode()))
		return exitErr.ExitCode()
	}
	logger.Error("run launcher failed", zap.String("command", l.command), zap.Error(err))
	return ExitFailure
}
