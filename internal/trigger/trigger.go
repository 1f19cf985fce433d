package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pelilauta/sidekick/internal/docstore"
	"go.uber.org/zap"
)

// Kind enumerates the document events the relay reports.
type Kind string

const (
	// KindCreate fires when a document is first written.
	KindCreate Kind = "create"
	// KindDelete fires when a document is removed. The event carries the
	// last snapshot of the deleted document.
	KindDelete Kind = "delete"
)

var (
	// ErrInvalidPattern indicates a malformed trigger path pattern.
	ErrInvalidPattern = errors.New("trigger: invalid path pattern")
	// ErrUnknownKind indicates an event kind outside create/delete.
	ErrUnknownKind = errors.New("trigger: unknown event kind")
)

// ParseKind validates a raw event kind string.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindCreate:
		return KindCreate, nil
	case KindDelete:
		return KindDelete, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
}

// Event is one document change delivered to a handler. Params holds the
// wildcard segments extracted from the matched pattern.
type Event struct {
	Path   string
	Kind   Kind
	Params map[string]string
	Doc    docstore.Snapshot
}

// HandlerFunc reacts to one document event. Errors propagate out of the
// dispatch so the relay can apply its own retry policy.
type HandlerFunc func(ctx context.Context, event Event) error

type pattern struct {
	segments []string
}

func parsePattern(text string) (pattern, error) {
	trimmed := strings.Trim(strings.TrimSpace(text), "/")
	if trimmed == "" {
		return pattern{}, fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	segments := strings.Split(trimmed, "/")
	for _, segment := range segments {
		if segment == "" {
			return pattern{}, fmt.Errorf("%w: %q", ErrInvalidPattern, text)
		}
		if strings.HasPrefix(segment, "{") != strings.HasSuffix(segment, "}") {
			return pattern{}, fmt.Errorf("%w: %q", ErrInvalidPattern, text)
		}
		if segment == "{}" {
			return pattern{}, fmt.Errorf("%w: %q", ErrInvalidPattern, text)
		}
	}
	return pattern{segments: segments}, nil
}

func (p pattern) match(path string) (map[string]string, bool) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) != len(p.segments) {
		return nil, false
	}
	params := map[string]string{}
	for index, expected := range p.segments {
		if strings.HasPrefix(expected, "{") {
			params[expected[1:len(expected)-1]] = segments[index]
			continue
		}
		if expected != segments[index] {
			return nil, false
		}
	}
	return params, true
}

type binding struct {
	pattern pattern
	kind    Kind
	name    string
	handler HandlerFunc
}

// Registry binds path patterns and event kinds to handlers and dispatches
// incoming document events against them.
type Registry struct {
	bindings []binding
	logger   *zap.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger}
}

// Bind registers a handler for the given path pattern and event kind. The
// name identifies the handler in logs and errors.
func (r *Registry) Bind(patternText string, kind Kind, name string, handler HandlerFunc) error {
	parsed, err := parsePattern(patternText)
	if err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("trigger: handler %q is nil", name)
	}
	r.bindings = append(r.bindings, binding{pattern: parsed, kind: kind, name: name, handler: handler})
	return nil
}

// Dispatch runs every handler bound to the event's path and kind, in
// registration order. The first handler error aborts the dispatch; the relay
// treats the whole invocation as failed and may redeliver.
func (r *Registry) Dispatch(ctx context.Context, path string, kind Kind, data map[string]any) error {
	ref, err := docstore.ParseRef(path)
	if err != nil {
		return err
	}

	matched := 0
	for _, bound := range r.bindings {
		if bound.kind != kind {
			continue
		}
		params, ok := bound.pattern.match(path)
		if !ok {
			continue
		}
		matched++
		event := Event{
			Path:   path,
			Kind:   kind,
			Params: params,
			Doc:    docstore.NewSnapshot(ref, data),
		}
		if err := bound.handler(ctx, event); err != nil {
			r.logger.Error("trigger handler failed",
				zap.String("handler", bound.name),
				zap.String("path", path),
				zap.String("kind", string(kind)),
				zap.Error(err))
			return fmt.Errorf("%s: %w", bound.name, err)
		}
		r.logger.Debug("trigger handler completed",
			zap.String("handler", bound.name),
			zap.String("path", path))
	}

	if matched == 0 {
		r.logger.Debug("no trigger bound for event",
			zap.String("path", path),
			zap.String("kind", string(kind)))
	}
	return nil
}
