package app

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"
)

// IRunner represents a runnable command in the application layer.
type IRunner interface {
	Name() string
	Desc() string
	Init(f *pflag.FlagSet)
	PreRun(ctx context.Context) error
	Run(ctx context.Context) error
	PostRun(ctx context.Context) error
}

// IRawArgsRunner receives the command line untouched instead of parsed flags.
type IRawArgsRunner interface {
	IRunner
	SetArgs(args []string)
}

// IStandaloneRunner is implemented by runners that work without the catalog.
type IStandaloneRunner interface {
	IRunner
	Standalone() bool
}

// ExitCodeError asks the process to exit with Code.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}
