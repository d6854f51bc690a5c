package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/docyard/internal/jobtype"
	"github.com/zulandar/docyard/internal/models"
)

// Task is the input of one handler invocation.
type Task struct {
	Job      models.ProcessingJob
	Document models.Document
	// Progress records a coarse checkpoint (0-100). Values lower than the
	// last reported one are ignored.
	Progress func(pct int)
}

// Handler performs one job type. Handle must not panic on bad input; the
// pool recovers panics but treats them as retryable.
type Handler interface {
	Handle(ctx context.Context, task Task) Outcome
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task Task) Outcome

func (f HandlerFunc) Handle(ctx context.Context, task Task) Outcome { return f(ctx, task) }

// Registry maps every job type to its handler.
type Registry struct {
	handlers map[jobtype.Type]Handler
}

// NewRegistry checks that handlers covers every job type exactly and nothing
// else.
func NewRegistry(handlers map[jobtype.Type]Handler) (*Registry, error) {
	var errs []error
	for _, t := range jobtype.All() {
		if handlers[t] == nil {
			errs = append(errs, fmt.Errorf("worker: no handler for %s", t))
		}
	}
	for t := range handlers {
		if !t.Valid() {
			errs = append(errs, fmt.Errorf("worker: handler for unknown job type %q", t))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	r := &Registry{handlers: make(map[jobtype.Type]Handler, len(handlers))}
	for t, h := range handlers {
		r.handlers[t] = h
	}
	return r, nil
}

// Lookup returns the handler for t.
func (r *Registry) Lookup(t jobtype.Type) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// Names returns the queue handler names the registry can serve.
func (r *Registry) Names() []string {
	return jobtype.Strings()
}
