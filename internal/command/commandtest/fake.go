// Package commandtest provides a scripted command.Runner for tests.
package commandtest

import (
	"context"
	"sync"

	"github.com/oshokin/repo-bootstrap/internal/command"
)

// Response is what the fake returns for one call.
type Response struct {
	Result *command.Result
	Err    error
}

// Runner records every command and answers from Respond, or with exit code 0.
type Runner struct {
	// Respond picks the answer for a command. Nil means success.
	Respond func(cmd command.Command) Response

	mu    sync.Mutex
	calls []command.Command
}

// Run records cmd and returns the scripted response.
func (r *Runner) Run(_ context.Context, cmd command.Command) (*command.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	r.mu.Unlock()

	if r.Respond == nil {
		return &command.Result{Command: cmd}, nil
	}

	resp := r.Respond(cmd)
	if resp.Result != nil {
		resp.Result.Command = cmd
	}

	return resp.Result, resp.Err
}

// Calls returns a copy of the recorded commands.
func (r *Runner) Calls() []command.Command {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]command.Command(nil), r.calls...)
}

// ExitWith is a Respond helper failing every command with code and stderr.
func ExitWith(code int, stderr string) func(command.Command) Response {
	return func(command.Command) Response {
		return Response{Result: &command.Result{ExitCode: code, Stderr: stderr}}
	}
}
