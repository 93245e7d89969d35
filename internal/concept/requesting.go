package concept

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/recipesync/internal/ir"
)

// RequestingName is the concept name rules use for the boundary.
const RequestingName = "Requesting"

// Operation references on the boundary.
var (
	OpRequest = ir.Op(RequestingName, "request")
	OpRespond = ir.Op(RequestingName, "respond")
)

// IDGenerator mints request ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7IDs generates time-sortable request ids.
type UUIDv7IDs struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7IDs) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Requesting is the correlation boundary between the outside world and the
// rules. request mints a correlation id and is the usual first action of a
// cascade; respond delivers the final answer to whoever awaits that id.
//
// The boundary does not care what it is wired to: HTTP, a queue or a CLI
// all go through Serve or the request/Await pair.
type Requesting struct {
	ids IDGenerator

	mu        sync.Mutex
	waiters   map[string]chan struct{}
	responses map[string]ir.Record
}

// NewRequesting creates the boundary concept. A nil generator uses UUIDv7.
func NewRequesting(ids IDGenerator) *Requesting {
	if ids == nil {
		ids = UUIDv7IDs{}
	}
	return &Requesting{
		ids:       ids,
		waiters:   make(map[string]chan struct{}),
		responses: make(map[string]ir.Record),
	}
}

// Concept exposes request and respond as concept actions.
func (r *Requesting) Concept() *Concept {
	return New(RequestingName).
		Action(OpRequest.Name, r.request).
		Action(OpRespond.Name, r.respond)
}

func (r *Requesting) request(_ context.Context, _ ir.Record) (ir.Record, error) {
	id := r.ids.Generate()

	r.mu.Lock()
	r.waiters[id] = make(chan struct{})
	r.mu.Unlock()

	return ir.Record{"request": ir.String(id)}, nil
}

func (r *Requesting) respond(_ context.Context, input ir.Record) (ir.Record, error) {
	idVal, ok := input["request"].(ir.String)
	if !ok {
		return Fail("respond requires a request id"), nil
	}
	id := string(idVal)

	r.mu.Lock()
	defer r.mu.Unlock()

	done, pending := r.waiters[id]
	if !pending {
		return Fail("request %s is not pending", id), nil
	}
	body := input.Clone()
	delete(body, "request")
	r.responses[id] = body
	delete(r.waiters, id)
	close(done)

	return ir.Record{"request": idVal}, nil
}

// Await blocks until the request has been answered or ctx is done.
// The boundary owns request timeouts; the engine never aborts a cascade.
func (r *Requesting) Await(ctx context.Context, id string) (ir.Record, error) {
	r.mu.Lock()
	if body, ok := r.responses[id]; ok {
		delete(r.responses, id)
		r.mu.Unlock()
		return body, nil
	}
	done, pending := r.waiters[id]
	r.mu.Unlock()
	if !pending {
		return nil, fmt.Errorf("request %s is unknown", id)
	}

	select {
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.waiters, id)
		r.mu.Unlock()
		return nil, fmt.Errorf("request %s: %w", id, ctx.Err())
	case <-done:
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	body := r.responses[id]
	delete(r.responses, id)
	return body, nil
}

// Pending returns the number of requests still waiting for a response.
func (r *Requesting) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// abandon forgets a request that will never be awaited.
func (r *Requesting) abandon(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiters, id)
	delete(r.responses, id)
}

// InvokeFunc runs a concept operation through the engine and returns its
// action output. When the cascade fails after the operation itself
// completed, the output should still be returned alongside the error.
type InvokeFunc func(ctx context.Context, op ir.OpRef, input ir.Record) (ir.Record, error)

// Serve handles one inbound call for path ("/Concept/operation").
//
// Paths the passthrough policy includes are invoked directly. Everything
// else becomes Requesting.request with the path and fields as input, and
// Serve waits for the matching respond.
func (r *Requesting) Serve(ctx context.Context, invoke InvokeFunc, pass Passthrough, path string, fields ir.Record) (ir.Record, error) {
	if pass.Direct(path) {
		op, err := OpFromPath(path)
		if err != nil {
			return nil, err
		}
		return invoke(ctx, op, fields)
	}

	input := fields.Clone()
	input["path"] = ir.String(path)
	out, err := invoke(ctx, OpRequest, input)
	if err != nil {
		// The request was minted before its cascade failed. Nobody will
		// Await it, so its waiter (or an early response) must go now.
		if id, ok := out["request"].(ir.String); ok {
			r.abandon(string(id))
		}
		return nil, err
	}
	id, ok := out["request"].(ir.String)
	if !ok {
		return nil, fmt.Errorf("request returned no id: %v", out)
	}
	return r.Await(ctx, string(id))
}

// OpFromPath converts "/Concept/operation" into an operation reference.
func OpFromPath(path string) (ir.OpRef, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 {
		return ir.OpRef{}, fmt.Errorf("path %q does not name an operation", path)
	}
	return ir.Op(parts[len(parts)-2], parts[len(parts)-1]), nil
}
