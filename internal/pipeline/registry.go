package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/RichLycus/ProjekUtama-sub000/internal/logging"
)

// Handler is the unit of work executed by a Step. Run mutates ec in place;
// a returned error marks the step as failed.
type Handler interface {
	Run(ctx context.Context, ec *ExecutionContext) error
}

// RetrySafe is implemented by handlers that may be re-run after a failed
// attempt. Handlers without it are never retried.
type RetrySafe interface {
	RetrySafe() bool
}

// Gate lets a handler skip itself based on the context.
type Gate interface {
	ShouldRun(ec *ExecutionContext) bool
}

// InputValidator lets a handler reject a context before running.
type InputValidator interface {
	ValidateInput(ec *ExecutionContext) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ec *ExecutionContext) error

// Run implements Handler.
func (f HandlerFunc) Run(ctx context.Context, ec *ExecutionContext) error { return f(ctx, ec) }

// Factory builds a handler from its step config.
type Factory func(config map[string]any) (Handler, error)

// Schema declares the config keys a handler accepts.
type Schema struct {
	Required []string `json:"required,omitempty"`
	Optional []string `json:"optional,omitempty"`
	// Strict rejects keys not listed in Required or Optional.
	Strict bool `json:"strict,omitempty"`
}

// Check validates config against the schema.
func (s *Schema) Check(config map[string]any) error {
	var problems []string
	for _, k := range s.Required {
		if _, ok := config[k]; !ok {
			problems = append(problems, fmt.Sprintf("missing required key %q", k))
		}
	}
	if s.Strict {
		known := make(map[string]struct{}, len(s.Required)+len(s.Optional))
		for _, k := range s.Required {
			known[k] = struct{}{}
		}
		for _, k := range s.Optional {
			known[k] = struct{}{}
		}
		var unknown []string
		for k := range config {
			if _, ok := known[k]; !ok {
				unknown = append(unknown, k)
			}
		}
		sort.Strings(unknown)
		for _, k := range unknown {
			problems = append(problems, fmt.Sprintf("unknown key %q", k))
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, ", "))
	}
	return nil
}

// HandlerInfo describes a registered handler.
type HandlerInfo struct {
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Schema       *Schema   `json:"schema,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	Cached       bool      `json:"cached"`
}

type registration struct {
	factory      Factory
	description  string
	schema       *Schema
	registeredAt time.Time
}

// RegisterOption configures a registration.
type RegisterOption func(*registration)

// WithSchema declares the handler's config schema.
func WithSchema(s Schema) RegisterOption {
	return func(r *registration) { r.schema = &s }
}

// WithDescription attaches a human-readable description.
func WithDescription(desc string) RegisterOption {
	return func(r *registration) { r.description = desc }
}

// Registry maps handler names to factories and keeps reusable instances.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*registration
	instances *gocache.Cache
	log       zerolog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(l zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[string]*registration),
		// no janitor: instances live until evicted explicitly
		instances: gocache.New(gocache.NoExpiration, 0),
		log:       logging.Component("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a handler factory. Registering an existing name replaces it
// and drops its cached instance.
func (r *Registry) Register(name string, factory Factory, opts ...RegisterOption) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("pipeline: handler name is empty")
	}
	if factory == nil {
		return fmt.Errorf("register %q: %w", name, ErrNilFactory)
	}
	reg := &registration{factory: factory, registeredAt: time.Now()}
	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		r.log.Warn().Str("handler", name).Msg("Overwriting registered handler")
		r.dropInstances(name)
	}
	r.entries[name] = reg
	return nil
}

// MustRegister is Register for built-in handlers.
func (r *Registry) MustRegister(name string, factory Factory, opts ...RegisterOption) {
	if err := r.Register(name, factory, opts...); err != nil {
		panic(err)
	}
}

// Get builds a handler. With reuse, one instance per name and config is
// created on first use and returned afterwards. Configs that cannot be
// encoded are never reused.
func (r *Registry) Get(name string, config map[string]any, reuse bool) (Handler, error) {
	key, keyed := instanceKey(name, config)
	if reuse && keyed {
		if h, ok := r.instances.Get(key); ok {
			return h.(Handler), nil
		}
	}

	r.mu.RLock()
	reg, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotFoundError{Kind: "handler", Name: name, Available: r.List()}
	}

	if !reuse || !keyed {
		return r.build(name, reg, config)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.instances.Get(key); ok {
		return h.(Handler), nil
	}
	h, err := r.build(name, reg, config)
	if err != nil {
		return nil, err
	}
	r.instances.Set(key, h, gocache.NoExpiration)
	return h, nil
}

// instanceKey is name plus the SHA-256 of the config's JSON encoding. Map keys
// encode sorted, so equal configs share a key. nil and empty configs match.
func instanceKey(name string, config map[string]any) (string, bool) {
	canonical := []byte("{}")
	if len(config) > 0 {
		b, err := json.Marshal(config)
		if err != nil {
			return "", false
		}
		canonical = b
	}
	sum := sha256.Sum256(canonical)
	return name + "\x00" + hex.EncodeToString(sum[:]), true
}

// dropInstances evicts every cached instance of name. Callers hold r.mu.
func (r *Registry) dropInstances(name string) {
	prefix := name + "\x00"
	for key := range r.instances.Items() {
		if strings.HasPrefix(key, prefix) {
			r.instances.Delete(key)
		}
	}
}

func (r *Registry) cachedInstances(name string) int {
	prefix := name + "\x00"
	n := 0
	for key := range r.instances.Items() {
		if strings.HasPrefix(key, prefix) {
			n++
		}
	}
	return n
}

func (r *Registry) build(name string, reg *registration, config map[string]any) (Handler, error) {
	if config == nil {
		config = map[string]any{}
	}
	h, err := reg.factory(config)
	if err != nil {
		return nil, fmt.Errorf("build handler %q: %w", name, err)
	}
	if h == nil {
		return nil, fmt.Errorf("build handler %q: factory returned nil", name)
	}
	return h, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// List returns registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister removes a handler and its cached instance.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return false
	}
	delete(r.entries, name)
	r.dropInstances(name)
	return true
}

// Info describes a registered handler.
func (r *Registry) Info(name string) (HandlerInfo, error) {
	r.mu.RLock()
	reg, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return HandlerInfo{}, &NotFoundError{Kind: "handler", Name: name, Available: r.List()}
	}
	return HandlerInfo{
		Name:         name,
		Description:  reg.description,
		Schema:       reg.schema,
		RegisteredAt: reg.registeredAt,
		Cached:       r.cachedInstances(name) > 0,
	}, nil
}

// ValidateDefinition checks that every step references a registered handler
// whose schema accepts the step config.
func (r *Registry) ValidateDefinition(d *Definition) error {
	verr := &ValidationError{Pipeline: d.ID}
	r.mu.RLock()
	defer r.mu.RUnlock()

	check := func(where, handler string, config map[string]any) {
		reg, ok := r.entries[handler]
		if !ok {
			verr.add("%s: unknown handler %q", where, handler)
			return
		}
		if reg.schema == nil {
			return
		}
		if err := reg.schema.Check(config); err != nil {
			verr.add("%s: handler %q config: %v", where, handler, err)
		}
	}
	for _, s := range d.Steps {
		check("step "+s.ID, s.Handler, s.Config)
	}
	if h := d.ErrorHandling.RecoveryHandler; h != "" {
		if _, ok := r.entries[h]; !ok {
			verr.add("recovery handler %q is not registered", h)
		}
	}
	return verr.orNil()
}
