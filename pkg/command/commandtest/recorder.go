// Package commandtest provides a recording command.Runner for tests.
package commandtest

import (
	"context"
	"strings"
	"sync"
)

// Call is one recorded invocation.
type Call struct {
	Name string
	Args []string
}

func (c Call) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Recorder records calls and answers them with Handler. A nil Handler
// succeeds with empty output.
type Recorder struct {
	mu      sync.Mutex
	calls   []Call
	Handler func(c Call) ([]byte, error)
}

func (r *Recorder) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := Call{Name: name, Args: append([]string(nil), args...)}
	r.mu.Lock()
	r.calls = append(r.calls, c)
	h := r.Handler
	r.mu.Unlock()
	if h == nil {
		return nil, nil
	}
	return h(c)
}

// Commands returns the recorded calls as command lines.
func (r *Recorder) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.String())
	}
	return out
}

// Reset forgets recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
