package pipeline

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/RichLycus/ProjekUtama-sub000/internal/logging"
)

//go:embed builtin
var builtinFS embed.FS

// Format is a definition document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// extensions in lookup order
var extensions = []struct {
	ext    string
	format Format
}{
	{".yaml", FormatYAML},
	{".yml", FormatYAML},
	{".toml", FormatTOML},
	{".json", FormatJSON},
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(p string) (Format, bool) {
	ext := strings.ToLower(filepath.Ext(p))
	for _, e := range extensions {
		if e.ext == ext {
			return e.format, true
		}
	}
	return "", false
}

// Decode parses a definition document without validating it.
func Decode(data []byte, format Format) (*Definition, error) {
	var def Definition
	var err error
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&def)
	case FormatTOML:
		var md toml.MetaData
		md, err = toml.Decode(string(data), &def)
		if err == nil {
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				err = fmt.Errorf("unknown keys: %v", undecoded)
			}
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&def)
	default:
		return nil, fmt.Errorf("unsupported pipeline format %q", format)
	}
	if err != nil {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("decode %s: %v", format, err)}}
	}
	return &def, nil
}

// Encode writes a definition in the given format.
func Encode(def *Definition, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(def)
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(def); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatJSON:
		return json.MarshalIndent(def, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported pipeline format %q", format)
	}
}

// Loader resolves definitions by (tier, name) from a directory laid out as
// <dir>/<tier>/<name>.<ext>, falling back to the built-in set. Loaded
// definitions are cached. Loader is safe for concurrent use.
type Loader struct {
	dir      string
	builtin  fs.FS
	registry *Registry
	log      zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*Definition
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the loader logger.
func WithLoaderLogger(l zerolog.Logger) LoaderOption {
	return func(ld *Loader) { ld.log = l }
}

// WithRegistry makes the loader check handler names and config schemas.
func WithRegistry(r *Registry) LoaderOption {
	return func(ld *Loader) { ld.registry = r }
}

// WithBuiltin replaces the embedded definition set. Pass nil to disable it.
func WithBuiltin(fsys fs.FS) LoaderOption {
	return func(ld *Loader) { ld.builtin = fsys }
}

// NewLoader creates a loader for dir. An empty dir uses only built-ins.
func NewLoader(dir string, opts ...LoaderOption) *Loader {
	sub, _ := fs.Sub(builtinFS, "builtin")
	ld := &Loader{
		dir:     dir,
		builtin: sub,
		log:     logging.Component("pipeline"),
		cache:   make(map[string]*Definition),
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Dir returns the definitions directory.
func (ld *Loader) Dir() string { return ld.dir }

func cacheKey(tier, name string) string { return tier + "/" + name }

// Load returns the definition for (tier, name). Repeated loads return the
// cached definition.
func (ld *Loader) Load(tier, name string) (*Definition, error) {
	key := cacheKey(tier, name)
	ld.mu.RLock()
	def, ok := ld.cache[key]
	ld.mu.RUnlock()
	if ok {
		return def, nil
	}

	data, format, source, err := ld.read(tier, name)
	if err != nil {
		return nil, err
	}
	def, err = ld.parse(data, format, source)
	if err != nil {
		return nil, err
	}
	if def.Tier == "" {
		def.Tier = tier
	}

	ld.mu.Lock()
	defer ld.mu.Unlock()
	if existing, ok := ld.cache[key]; ok {
		return existing, nil
	}
	ld.cache[key] = def
	ld.log.Debug().Str("pipeline", key).Str("source", source).Msg("Loaded pipeline definition")
	return def, nil
}

// LoadFile parses, validates and returns a definition from an explicit path.
// The result is not cached.
func (ld *Loader) LoadFile(p string) (*Definition, error) {
	format, ok := FormatFromPath(p)
	if !ok {
		return nil, fmt.Errorf("unsupported pipeline file %q", p)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read pipeline %q: %w", p, err)
	}
	return ld.parse(data, format, p)
}

func (ld *Loader) read(tier, name string) ([]byte, Format, string, error) {
	if strings.ContainsAny(tier+name, `/\`) || strings.Contains(tier+name, "..") {
		return nil, "", "", fmt.Errorf("invalid pipeline reference %q", cacheKey(tier, name))
	}
	if ld.dir != "" {
		for _, e := range extensions {
			p := filepath.Join(ld.dir, tier, name+e.ext)
			data, err := os.ReadFile(p)
			if err == nil {
				return data, e.format, p, nil
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, "", "", fmt.Errorf("read pipeline %q: %w", p, err)
			}
		}
	}
	if ld.builtin != nil {
		for _, e := range extensions {
			p := path.Join(tier, name+e.ext)
			if data, err := fs.ReadFile(ld.builtin, p); err == nil {
				return data, e.format, "builtin:" + p, nil
			}
		}
	}
	return nil, "", "", &NotFoundError{Kind: "pipeline", Name: cacheKey(tier, name), Available: ld.List()}
}

func (ld *Loader) parse(data []byte, format Format, source string) (*Definition, error) {
	def, err := Decode(data, format)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Pipeline = source
		}
		return nil, err
	}
	if err := Validate(def); err != nil {
		return nil, err
	}
	if ld.registry != nil {
		if err := ld.registry.ValidateDefinition(def); err != nil {
			return nil, err
		}
	}
	compile(def, ld.log)

	if ok, err := VerifySignature(def); err != nil {
		ld.log.Warn().Err(err).Str("pipeline", def.ID).Msg("Could not verify signature")
	} else if !ok {
		ld.log.Warn().Str("pipeline", def.ID).Str("source", source).Msg("Signature mismatch")
	}
	return def, nil
}

// List returns every resolvable "tier/name" reference, sorted.
func (ld *Loader) List() []string {
	seen := make(map[string]struct{})
	collect := func(fsys fs.FS) {
		_ = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if _, ok := FormatFromPath(p); !ok {
				return nil
			}
			dir, file := path.Split(p)
			dir = strings.Trim(dir, "/")
			if dir == "" || strings.Contains(dir, "/") {
				return nil
			}
			seen[cacheKey(dir, strings.TrimSuffix(file, path.Ext(file)))] = struct{}{}
			return nil
		})
	}
	if ld.dir != "" {
		if _, err := os.Stat(ld.dir); err == nil {
			collect(os.DirFS(ld.dir))
		}
	}
	if ld.builtin != nil {
		collect(ld.builtin)
	}

	refs := make([]string, 0, len(seen))
	for r := range seen {
		refs = append(refs, r)
	}
	sort.Strings(refs)
	return refs
}

// Invalidate drops one cached definition.
func (ld *Loader) Invalidate(tier, name string) {
	ld.mu.Lock()
	delete(ld.cache, cacheKey(tier, name))
	ld.mu.Unlock()
}

// Reset drops every cached definition.
func (ld *Loader) Reset() {
	ld.mu.Lock()
	ld.cache = make(map[string]*Definition)
	ld.mu.Unlock()
}

// Cached returns the number of cached definitions.
func (ld *Loader) Cached() int {
	ld.mu.RLock()
	defer ld.mu.RUnlock()
	return len(ld.cache)
}

// Watch invalidates cached definitions when files under the directory change.
// It blocks until ctx is done. Tier directories created after Watch starts
// are picked up.
func (ld *Loader) Watch(ctx context.Context) error {
	if ld.dir == "" {
		return errors.New("pipeline loader has no directory to watch")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(ld.dir); err != nil {
		return fmt.Errorf("watch %q: %w", ld.dir, err)
	}
	entries, err := os.ReadDir(ld.dir)
	if err != nil {
		return fmt.Errorf("read %q: %w", ld.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.Add(filepath.Join(ld.dir, e.Name())); err != nil {
				ld.log.Warn().Err(err).Str("dir", e.Name()).Msg("Could not watch tier directory")
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			ld.handleEvent(w, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			ld.log.Warn().Err(err).Msg("Pipeline watcher error")
		}
	}
}

func (ld *Loader) handleEvent(w *fsnotify.Watcher, ev fsnotify.Event) {
	rel, err := filepath.Rel(ld.dir, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	if !strings.Contains(rel, "/") {
		// a tier directory appeared or vanished
		if ev.Has(fsnotify.Create) {
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				_ = w.Add(ev.Name)
			}
		}
		ld.Reset()
		return
	}

	tier, file := path.Split(rel)
	tier = strings.Trim(tier, "/")
	if _, ok := FormatFromPath(file); !ok {
		return
	}
	name := strings.TrimSuffix(file, path.Ext(file))
	ld.Invalidate(tier, name)
	ld.log.Info().Str("pipeline", cacheKey(tier, name)).Str("op", ev.Op.String()).Msg("Pipeline definition changed")
}
