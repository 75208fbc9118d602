package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/appforge/appforge/pkg/sandbox"
)

// RunResult is the outcome of one command invocation.
type RunResult struct {
	ExitCode       int
	CombinedOutput string
}

// bridge attaches one spawned process at a time to the live terminal: output
// chunks are written through to the display as they arrive, and user
// keystrokes are forwarded to the process's stdin for as long as it runs.
type bridge struct {
	box     sandbox.Sandbox
	term    Terminal
	display Display
}

// run spawns commandLine in cwd and blocks until the process exits. The
// keystroke subscription is established before spawn and torn down before
// run returns; a subscription that outlived the process would forward a later
// command's keystrokes to a dead stdin, which is a correctness bug.
//
// The command line is split on whitespace. Shell quoting is not supported.
func (b *bridge) run(ctx context.Context, commandLine, cwd string) (*RunResult, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command line")
	}

	keys, cancel := b.term.Subscribe()

	proc, err := b.box.Spawn(ctx, fields[0], fields[1:], cwd)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("spawning %q: %w", fields[0], err)
	}

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for chunk := range keys {
			if _, err := proc.Input().Write(chunk); err != nil {
				return
			}
		}
	}()

	// Single reader preserves emission order; each chunk is accumulated and
	// written through to the display immediately.
	var accum strings.Builder
	buf := make([]byte, 4096)
	out := proc.Output()
	for {
		n, rerr := out.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			accum.Write(chunk)
			b.display.TermWrite(append([]byte(nil), chunk...))
		}
		if rerr != nil {
			break
		}
	}

	code, werr := proc.Wait(ctx)

	cancel()
	<-forwardDone

	if werr != nil {
		return nil, fmt.Errorf("waiting for process: %w", werr)
	}
	return &RunResult{ExitCode: code, CombinedOutput: accum.String()}, nil
}
