package app

import (
	"fmt"
	"sort"
	"strings"
)

var runnerRegistry = map[string]func() IRunner{}

// RegisterRunner adds a subcommand factory. Names must be unique and free of
// spaces, a clash is a programming error and panics at init time.
func RegisterRunner(name string, factory func() IRunner) {
	if name == "" || strings.ContainsAny(name, " \t") {
		panic(fmt.Sprintf("invalid runner name %q", name))
	}
	if _, ok := runnerRegistry[name]; ok {
		panic(fmt.Sprintf("runner %s registered twice", name))
	}
	runnerRegistry[name] = factory
}

// ResolveRunner builds a fresh runner so flag state never leaks between uses.
func ResolveRunner(name string) (IRunner, error) {
	factory, ok := runnerRegistry[name]
	if !ok {
		return nil, fmt.Errorf("runner %s not registered", name)
	}
	return factory(), nil
}

func MustResolveRunner(name string) IRunner {
	r, err := ResolveRunner(name)
	if err != nil {
		panic(err)
	}
	return r
}

// RunnerList returns the registered names in alphabetical order.
func RunnerList() []string {
	names := make([]string, 0, len(runnerRegistry))
	for name := range runnerRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
