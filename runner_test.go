package rustext

import (
	"context"
	"io"
	"strings"
	"sync"
)

// fakeRunner substitutes canned process behavior for tests. startFn
// returns the stdout payload plus the error the wait func reports;
// outputFn serves the one-shot query commands (rustc -V, rustup).
type fakeRunner struct {
	mu      sync.Mutex
	started [][]string

	startFn  func(name string, args []string) (stdout string, waitErr error, startErr error)
	outputFn func(name string, args []string) ([]byte, error)
}

func (f *fakeRunner) start(_ context.Context, _ string, _ []string, name string, args ...string) (io.ReadCloser, func() error, error) {
	f.mu.Lock()
	f.started = append(f.started, append([]string{name}, args...))
	f.mu.Unlock()

	if f.startFn == nil {
		return io.NopCloser(strings.NewReader("")), func() error { return nil }, nil
	}
	stdout, waitErr, startErr := f.startFn(name, args)
	if startErr != nil {
		return nil, nil, startErr
	}
	return io.NopCloser(strings.NewReader(stdout)), func() error { return waitErr }, nil
}

func (f *fakeRunner) output(_ context.Context, name string, args ...string) ([]byte, error) {
	if f.outputFn == nil {
		return nil, nil
	}
	return f.outputFn(name, args)
}

func (f *fakeRunner) startedCommands() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.started...)
}
