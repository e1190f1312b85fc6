// Package source adapts open-data platforms to the harvester contract.
package source

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"catalog-harvester/internal/harvest/domain/repository"
	sharedErrors "catalog-harvester/internal/shared/errors"
	"catalog-harvester/internal/shared/logger"
)

// Options configures a harvester built by a Registry.
type Options struct {
	SourceURL string
	APIKey    string
	MainOrg   string
	MainGroup string

	HTTPClient *http.Client
	Logger     logger.Logger

	// DetailConcurrency bounds per-record detail requests made while
	// fetching (Dataverse). Values below 1 mean 4.
	DetailConcurrency int

	// Now stamps "Last Harvested At" extras. Defaults to time.Now.
	Now func() time.Time
}

// Constructor creates a harvester for one platform.
type Constructor func(opts Options) (repository.Harvester, error)

// Registry maps platform names to constructors. It is populated explicitly;
// nothing registers itself on import.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	aliases      map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
		aliases:      make(map[string]string),
	}
}

// DefaultRegistry returns a registry holding every built-in platform.
// The CamelCase aliases keep older HARVESTER_NAME values working.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("ckan", NewCkanHarvester, "CkanHarvester")
	r.Register("lincolnshire", NewLincolnshireHarvester, "LincolnshireHarvester")
	r.Register("socrata", NewSocrataHarvester, "SocrataHarvester")
	r.Register("opendatasoft", NewOpenDataSoftHarvester, "OpenDataSoftHarvester", "ods")
	r.Register("arcgis", NewArcgisHarvester, "ArcgisHarvester")
	r.Register("dataverse", NewDataverseHarvester, "DataverseHarvester")
	r.Register("dkan", NewDkanHarvester, "DkanHarvester")
	return r
}

// Register adds a constructor under name and any aliases. It panics on a nil
// constructor or a name that is already taken.
func (r *Registry) Register(name string, constructor Constructor, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("source: Register constructor is nil for %s", name))
	}
	if _, exists := r.constructors[name]; exists {
		panic(fmt.Sprintf("source: Register called twice for %s", name))
	}
	r.constructors[name] = constructor
	for _, alias := range aliases {
		if _, exists := r.aliases[alias]; exists {
			panic(fmt.Sprintf("source: alias %s registered twice", alias))
		}
		r.aliases[alias] = name
	}
}

// Resolve returns the canonical platform name for name or an alias.
func (r *Registry) Resolve(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.constructors[name]; ok {
		return name, true
	}
	if canonical, ok := r.aliases[name]; ok {
		return canonical, true
	}
	lower := strings.ToLower(name)
	if _, ok := r.constructors[lower]; ok {
		return lower, true
	}
	return "", false
}

// New builds the harvester registered under name.
func (r *Registry) New(name string, opts Options) (repository.Harvester, error) {
	canonical, ok := r.Resolve(name)
	if !ok {
		return nil, sharedErrors.NewValidationError(fmt.Sprintf("unknown harvester %q (available: %s)", name, strings.Join(r.Names(), ", "))).
			WithCause(sharedErrors.ErrUnknownHarvester)
	}
	if opts.SourceURL == "" {
		return nil, sharedErrors.NewValidationError("source url is required")
	}
	if opts.MainOrg == "" {
		return nil, sharedErrors.NewValidationError("main organization is required")
	}

	r.mu.RLock()
	constructor := r.constructors[canonical]
	r.mu.RUnlock()
	return constructor(opts)
}

// Names returns the canonical platform names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Aliases returns the aliases registered for name.
func (r *Registry) Aliases(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for alias, canonical := range r.aliases {
		if canonical == name {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}
