// Package registry is the in-process test framework the runner executes
// against: suites register themselves by name (directly or through lazy
// loader functions), and the runner resolves spec strings into the
// registered suites. Loading a suite never runs its Setup hook; loader
// failures surface as typed errors so spec resolution can tell an
// unknown name from a broken registration.
package registry

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// NotFoundError reports a spec that names no registered suite.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no suite registered under %q", e.Name)
}

// LoadError reports a lazy registration whose loader failed or panicked.
type LoadError struct {
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load suite %q: %v", e.Name, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Loader produces a suite on first use. Loaders run at resolution time,
// not registration time, mirroring deferred linkage: a suite whose
// loader fails is addressable but unusable.
type Loader func() (*Suite, error)

// Config contains registry configuration
type Config struct {
	Log log.Logger
}

// Registry stores registered suites and lazy loaders.
type Registry struct {
	log log.Logger

	mu      sync.RWMutex
	suites  map[string]*Suite
	loaders map[string]Loader
	// broken memoizes loader failures: a name whose loader failed stays
	// addressable and keeps reporting the same error.
	broken map[string]error
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return &Registry{
		log:     cfg.Log.New("component", "registry"),
		suites:  make(map[string]*Suite),
		loaders: make(map[string]Loader),
		broken:  make(map[string]error),
	}
}

// Register adds a suite under its own name. Registering an invalid suite
// or reusing a name is an error.
func (r *Registry) Register(s *Suite) error {
	if err := s.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkFree(s.Name); err != nil {
		return err
	}
	r.suites[s.Name] = s
	return nil
}

// checkFree reports whether a name is still unclaimed. Callers hold the
// write lock.
func (r *Registry) checkFree(name string) error {
	if _, ok := r.suites[name]; ok {
		return fmt.Errorf("suite %s is already registered", name)
	}
	if _, ok := r.loaders[name]; ok {
		return fmt.Errorf("suite %s is already registered with a loader", name)
	}
	if _, ok := r.broken[name]; ok {
		return fmt.Errorf("suite %s is already registered with a loader", name)
	}
	return nil
}

// MustRegister is Register for package init blocks; it panics on error.
func (r *Registry) MustRegister(s *Suite) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// RegisterLazy adds a suite whose construction is deferred until it is
// first loaded. The loader runs at most once; its outcome is memoized.
func (r *Registry) RegisterLazy(name string, loader Loader) error {
	if name == "" {
		return fmt.Errorf("suite name cannot be empty")
	}
	if loader == nil {
		return fmt.Errorf("loader for suite %s cannot be nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkFree(name); err != nil {
		return err
	}
	r.loaders[name] = loader
	return nil
}

// Load resolves a name into its suite, invoking (and memoizing) a lazy
// loader when needed. Load never runs suite Setup. A later execution of
// the suite is the first time any of its own code runs.
func (r *Registry) Load(name string) (*Suite, error) {
	r.mu.RLock()
	s, ok := r.suites[name]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check under the write lock; another Load may have raced us here.
	if s, ok := r.suites[name]; ok {
		return s, nil
	}
	if err, ok := r.broken[name]; ok {
		return nil, err
	}
	loader, ok := r.loaders[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	delete(r.loaders, name)
	s, err := runLoader(name, loader)
	if err == nil && s.Name != name {
		err = &LoadError{Name: name, Err: fmt.Errorf("loader returned suite named %q", s.Name)}
	}
	if err == nil {
		if verr := s.validate(); verr != nil {
			err = &LoadError{Name: name, Err: verr}
		}
	}
	if err != nil {
		r.log.Error("Suite loader failed", "suite", name, "error", err)
		r.broken[name] = err
		return nil, err
	}
	r.suites[name] = s
	r.log.Debug("Suite loaded lazily", "suite", name, "tests", len(s.testNames()))
	return s, nil
}

// runLoader invokes a loader, converting panics into LoadErrors.
func runLoader(name string, loader Loader) (s *Suite, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &LoadError{Name: name, Err: fmt.Errorf("loader panicked: %v", rec)}
		}
	}()
	s, loadErr := loader()
	if loadErr != nil {
		return nil, &LoadError{Name: name, Err: loadErr}
	}
	if s == nil {
		return nil, &LoadError{Name: name, Err: fmt.Errorf("loader returned no suite")}
	}
	return s, nil
}

// Names returns every addressable suite name, loaded or not. Names whose
// loaders already failed are included; they resolve to their load error.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.suites)+len(r.loaders)+len(r.broken))
	for name := range r.suites {
		names = append(names, name)
	}
	for name := range r.loaders {
		names = append(names, name)
	}
	for name := range r.broken {
		names = append(names, name)
	}
	return names
}

// defaultRegistry backs the package-level registration helpers. Binaries
// that link test-suite packages use it as their provider.
var defaultRegistry = NewRegistry(Config{Log: log.Root()})

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a suite to the process-wide registry.
func Register(s *Suite) error {
	return defaultRegistry.Register(s)
}

// MustRegister adds a suite to the process-wide registry, panicking on
// error. Intended for init blocks of suite packages.
func MustRegister(s *Suite) {
	defaultRegistry.MustRegister(s)
}

// RegisterLazy adds a lazy suite to the process-wide registry.
func RegisterLazy(name string, loader Loader) error {
	return defaultRegistry.RegisterLazy(name, loader)
}
