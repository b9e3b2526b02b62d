// Package tools implements the registry of external functions a run may call
// and the dispatch step that invokes them. Descriptors are registered before a
// run and immutable afterwards; dispatch performs exactly one invocation per
// detected action and never retries.
//
// Failures split along a single line: a DomainError raised by the tool body is
// content, captured verbatim as observation text so the model can react to it.
// Everything else (context cancellation, infrastructure faults) is a process
// failure and propagates to the caller.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var (
	// ErrUnknown is returned by Dispatch when the requested tool name is not
	// registered. The run loop treats it as a recoverable no-op round.
	ErrUnknown = errors.New("unknown tool")

	// ErrRegistered is returned by Register when a descriptor reuses a name
	// already present in the registry.
	ErrRegistered = errors.New("tool already registered")
)

type (
	// Descriptor declares a callable tool: a name the model selects by, a
	// description used to build the prompt catalogue, and the invocation
	// contract. Descriptors are immutable once registered.
	Descriptor struct {
		// Name identifies the tool. The run loop constrains generation to the
		// set of registered names, so Name must be non-empty and unique.
		Name string
		// Description is the human-readable summary rendered into the prompt
		// catalogue.
		Description string
		// ArgsSchema optionally holds a JSON Schema applied to the argument
		// string before invocation. Violations become failed observations
		// rather than invocations. Empty means no validation.
		ArgsSchema json.RawMessage
		// Invoke runs the tool. It receives the raw argument text and returns
		// the observation text. A *DomainError return is recoverable content;
		// any other error aborts the run.
		Invoke func(ctx context.Context, arg string) (string, error)
	}

	// Invocation is the outcome of dispatching one action.
	Invocation struct {
		// Tool is the name the model selected.
		Tool string
		// Arg is the raw argument text passed to the tool.
		Arg string
		// Observation is the text fed back into the transcript: the tool's
		// result on success, the failure message otherwise.
		Observation string
		// Failed reports whether Observation carries a failure message (a
		// domain error or a rejected argument) instead of a result.
		Failed bool
	}

	// Registry holds the tools available to a run. Register before the run
	// starts; lookups during the run are read-only.
	Registry struct {
		entries map[string]*entry
		names   []string
	}

	entry struct {
		desc   Descriptor
		schema *jsonschema.Schema
	}
)

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a descriptor to the registry. It fails when the name is empty
// or already taken, when Invoke is nil, or when ArgsSchema does not compile.
// Schema problems surface here, at registration, never during a run.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return errors.New("tools: register: empty name")
	}
	if d.Invoke == nil {
		return fmt.Errorf("tools: register %q: nil invoke", d.Name)
	}
	if _, ok := r.entries[d.Name]; ok {
		return fmt.Errorf("tools: register %q: %w", d.Name, ErrRegistered)
	}
	e := &entry{desc: d}
	if len(d.ArgsSchema) > 0 {
		schema, err := compileSchema(d.Name, d.ArgsSchema)
		if err != nil {
			return fmt.Errorf("tools: register %q: %w", d.Name, err)
		}
		e.schema = schema
	}
	r.entries[d.Name] = e
	r.names = append(r.names, d.Name)
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	e, ok := r.entries[name]
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Catalogue returns the registered descriptors in registration order, for
// prompt construction.
func (r *Registry) Catalogue() []Descriptor {
	out := make([]Descriptor, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.entries[name].desc)
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.names)
}

// Dispatch invokes the named tool with the given argument, exactly once.
//
// Unknown names return ErrUnknown alongside an invocation carrying only the
// requested name and argument. A schema violation or a *DomainError from the
// tool body produces a failed invocation whose Observation holds the failure
// message; both are recoverable and return a nil error. Any other invocation
// error, including context cancellation, propagates to the caller.
func (r *Registry) Dispatch(ctx context.Context, name, arg string) (Invocation, error) {
	inv := Invocation{Tool: name, Arg: arg}
	e, ok := r.entries[name]
	if !ok {
		return inv, fmt.Errorf("tools: dispatch %q: %w", name, ErrUnknown)
	}
	if err := ctx.Err(); err != nil {
		return inv, err
	}
	if e.schema != nil {
		var doc any
		if err := json.Unmarshal([]byte(arg), &doc); err != nil {
			inv.Observation = fmt.Sprintf("invalid argument for %s: not valid JSON: %v", name, err)
			inv.Failed = true
			return inv, nil
		}
		if err := e.schema.Validate(doc); err != nil {
			inv.Observation = fmt.Sprintf("invalid argument for %s: %v", name, err)
			inv.Failed = true
			return inv, nil
		}
	}
	result, err := e.desc.Invoke(ctx, arg)
	if err != nil {
		if de, ok := AsDomainError(err); ok {
			inv.Observation = de.Error()
			inv.Failed = true
			return inv, nil
		}
		return inv, fmt.Errorf("tools: dispatch %q: %w", name, err)
	}
	inv.Observation = result
	return inv, nil
}

// compileSchema compiles raw schema JSON into a validator.
func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
