// Package processor expands Processor placeholder events into concrete device
// command trees. Each configured instance is registered under its name; an
// event whose device type is Processor is routed to the instance named by its
// device field.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/playout/internal/catalog"
	"github.com/Nixie-Tech-LLC/playout/internal/metrics"
	"github.com/Nixie-Tech-LLC/playout/internal/model"
)

var (
	ErrProcessorNotFound = errors.New("processor not found")
	// ErrMissingData is returned when a placeholder lacks data its processor needs.
	ErrMissingData = errors.New("missing event data")
	ErrTooDeep     = errors.New("processor expansion too deep")
)

// MaxDepth bounds nested processor expansion; a processor that keeps emitting
// placeholders for itself fails instead of recursing forever.
const MaxDepth = 16

// EventProcessor turns a placeholder into its replacement subtree.
type EventProcessor interface {
	Handle(ctx context.Context, event *model.PlaylistEntry) (*model.PlaylistEntry, error)
}

type entry struct {
	kind      string
	processor EventProcessor
}

// Registry maps instance names to processors. It is filled once at startup
// and only read afterwards.
type Registry struct {
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func (r *Registry) Register(name, kind string, p EventProcessor) error {
	if name == "" {
		return errors.New("processor name is empty")
	}
	if p == nil {
		return fmt.Errorf("processor %q is nil", name)
	}
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("processor %q registered twice", name)
	}
	r.entries[name] = entry{kind: kind, processor: p}
	return nil
}

func (r *Registry) Lookup(name string) (EventProcessor, bool) {
	e, ok := r.entries[name]
	return e.processor, ok
}

// Kind returns the plugin type an instance was registered with.
func (r *Registry) Kind(name string) string {
	return r.entries[name].kind
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the processor named by event.Device and then expands every
// Processor-typed child of the result, depth first.
func (r *Registry) Dispatch(ctx context.Context, event *model.PlaylistEntry) (*model.PlaylistEntry, error) {
	return r.dispatch(ctx, event, 0)
}

// Expand walks a whole tree and dispatches every Processor-typed node in it.
func (r *Registry) Expand(ctx context.Context, root *model.PlaylistEntry) (*model.PlaylistEntry, error) {
	return r.expand(ctx, root, 0)
}

func (r *Registry) expand(ctx context.Context, node *model.PlaylistEntry, depth int) (*model.PlaylistEntry, error) {
	if catalog.IsProcessor(node.DeviceType) {
		return r.dispatch(ctx, node, depth)
	}
	for i, child := range node.Children {
		out, err := r.expand(ctx, child, depth)
		if err != nil {
			return nil, err
		}
		node.Children[i] = out
	}
	return node, nil
}

func (r *Registry) dispatch(ctx context.Context, event *model.PlaylistEntry, depth int) (*model.PlaylistEntry, error) {
	if depth >= MaxDepth {
		return nil, fmt.Errorf("%w: %q at depth %d", ErrTooDeep, event.Device, depth)
	}
	if !catalog.IsProcessor(event.DeviceType) {
		return nil, fmt.Errorf("event for %q is not a processor event", event.Device)
	}
	e, ok := r.entries[event.Device]
	if !ok {
		metrics.RecordDispatch(event.Device, "not_found", 0)
		return nil, fmt.Errorf("%w: %q", ErrProcessorNotFound, event.Device)
	}

	start := time.Now()
	result, err := e.processor.Handle(ctx, event)
	if err != nil {
		metrics.RecordDispatch(event.Device, "error", time.Since(start))
		log.Error().Err(err).Str("processor", event.Device).Msg("[processor] handle failed")
		return nil, fmt.Errorf("processor %q: %w", event.Device, err)
	}
	metrics.RecordDispatch(event.Device, "ok", time.Since(start))
	log.Debug().Str("processor", event.Device).Int("depth", depth).
		Int("nodes", result.Count()).Msg("[processor] expanded placeholder")

	for i, child := range result.Children {
		out, err := r.expand(ctx, child, depth+1)
		if err != nil {
			return nil, err
		}
		result.Children[i] = out
	}
	return result, nil
}
