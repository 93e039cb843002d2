package rustext

import (
	"context"
	"io"
	"os"
	"os/exec"
)

// runner abstracts subprocess execution so the invoker and orchestrator
// can be tested against canned event streams without a Rust toolchain
// installed. The default implementation shells out via os/exec.
type runner interface {
	// start launches the command with stderr inherited from the parent
	// process (compiler diagnostics stream live to the user) and stdout
	// exposed as a pipe for the machine-readable event stream. The
	// returned wait func must be called after the pipe is drained; it
	// reports the process exit status.
	start(ctx context.Context, dir string, env []string, name string, args ...string) (io.ReadCloser, func() error, error)

	// output runs the command to completion and returns its stdout.
	output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) start(ctx context.Context, dir string, env []string, name string, args ...string) (io.ReadCloser, func() error, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return stdout, cmd.Wait, nil
}

func (execRunner) output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = os.Stderr
	return cmd.Output()
}
