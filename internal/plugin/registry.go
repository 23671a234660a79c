package plugin

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Registry maps plugin names and aliases to compiled monitors
type Registry struct {
	mu       sync.RWMutex
	monitors map[string]*Monitor
	failed   map[string]error
	aliases  map[string]string
	notifier Notifier
	logger   *zap.Logger
}

// NewRegistry creates a registry holding the built-in definitions
func NewRegistry(notifier Notifier, logger *zap.Logger) *Registry {
	r := &Registry{
		monitors: make(map[string]*Monitor),
		failed:   make(map[string]error),
		aliases:  make(map[string]string),
		notifier: notifier,
		logger:   logger,
	}
	for _, def := range Builtins() {
		if err := r.Register(def); err != nil {
			// built-ins are static; a failure here is a programming error
			panic(err)
		}
	}
	return r
}

// Register compiles def and makes it available under its name and aliases.
// A definition that fails to compile is remembered so lookups report why.
func (r *Registry) Register(def Definition) error {
	name := normalize(def.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}

	m, err := NewMonitor(def, r.notifier, r.logger.With(zap.String("plugin", def.Name)))

	r.mu.Lock()
	defer r.mu.Unlock()

	keys := append([]string{name}, def.Aliases...)
	for _, k := range keys {
		r.aliases[normalize(k)] = name
	}
	if err != nil {
		delete(r.monitors, name)
		r.failed[name] = err
		return err
	}
	delete(r.failed, name)
	r.monitors[name] = m
	return nil
}

// LoadDir registers every definition file in dir. Valid definitions are
// registered even when others fail; the failures are returned joined.
func (r *Registry) LoadDir(dir string) error {
	files, err := definitionFiles(dir)
	if err != nil {
		return err
	}

	var errs []error
	for _, file := range files {
		defs, err := LoadDefinitions(file)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, def := range defs {
			if err := r.Register(def); err != nil {
				errs = append(errs, err)
				continue
			}
			r.logger.Info("Registered plugin definition",
				zap.String("plugin", def.Name),
				zap.String("file", file))
		}
	}
	return errors.Join(errs...)
}

// Get returns the monitor registered under name or one of its aliases
func (r *Registry) Get(name string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	canonical, ok := r.aliases[normalize(name)]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownPlugin, name)
	}
	if err, failed := r.failed[canonical]; failed {
		return nil, err
	}
	return r.monitors[canonical], nil
}

// Names returns the canonical names of all usable plugins
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.monitors))
	for name := range r.monitors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
