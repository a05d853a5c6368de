// Package workspace holds the projects, observation sites and symbols a host edits, and notifies
// observers when any of them change. A Workspace is passed explicitly to whoever needs it.
package workspace

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/dontdude/qdoas/internal/controller"
	"github.com/dontdude/qdoas/internal/domain"
)

var (
	ErrExists   = errors.New("already exists")
	ErrNotFound = errors.New("not found")
	ErrInUse    = errors.New("in use")
	ErrNoName   = errors.New("name is required")
)

// Site is an observation site.
type Site struct {
	Name         string  `toml:"name"`
	Abbreviation string  `toml:"abbreviation"`
	Longitude    float64 `toml:"longitude"`
	Latitude     float64 `toml:"latitude"`
	Altitude     float64 `toml:"altitude"`
}

// Symbol names a cross section or other quantity referenced by analysis windows.
type Symbol struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

type ProjectObserver interface {
	ProjectsChanged()
}

type SiteObserver interface {
	SitesChanged()
}

type SymbolObserver interface {
	SymbolsChanged()
}

// Workspace is safe for concurrent use. Observers are called after the change is applied,
// outside the lock, on the goroutine that made the change.
type Workspace struct {
	mu       sync.RWMutex
	projects map[string]*domain.Project
	sites    map[string]Site
	symbols  map[string]Symbol

	obsMu     sync.Mutex
	projectOb []ProjectObserver
	siteOb    []SiteObserver
	symbolOb  []SymbolObserver
}

func New() *Workspace {
	return &Workspace{
		projects: make(map[string]*domain.Project),
		sites:    make(map[string]Site),
		symbols:  make(map[string]Symbol),
	}
}

// Projects

func (w *Workspace) AddProject(p *domain.Project) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("project: %w", ErrNoName)
	}
	w.mu.Lock()
	if _, ok := w.projects[p.Name]; ok {
		w.mu.Unlock()
		return fmt.Errorf("project %q: %w", p.Name, ErrExists)
	}
	w.projects[p.Name] = p.Clone()
	w.mu.Unlock()

	w.notifyProjects()
	return nil
}

// UpdateProject replaces the stored properties of an existing project.
func (w *Workspace) UpdateProject(p *domain.Project) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("project: %w", ErrNoName)
	}
	w.mu.Lock()
	if _, ok := w.projects[p.Name]; !ok {
		w.mu.Unlock()
		return fmt.Errorf("project %q: %w", p.Name, ErrNotFound)
	}
	w.projects[p.Name] = p.Clone()
	w.mu.Unlock()

	w.notifyProjects()
	return nil
}

func (w *Workspace) RenameProject(oldName, newName string) error {
	if newName == "" {
		return fmt.Errorf("project: %w", ErrNoName)
	}
	w.mu.Lock()
	p, ok := w.projects[oldName]
	switch {
	case !ok:
		w.mu.Unlock()
		return fmt.Errorf("project %q: %w", oldName, ErrNotFound)
	case oldName == newName:
		w.mu.Unlock()
		return nil
	}
	if _, taken := w.projects[newName]; taken {
		w.mu.Unlock()
		return fmt.Errorf("project %q: %w", newName, ErrExists)
	}
	delete(w.projects, oldName)
	p.Name = newName
	w.projects[newName] = p
	w.mu.Unlock()

	w.notifyProjects()
	return nil
}

func (w *Workspace) RemoveProject(name string) error {
	w.mu.Lock()
	if _, ok := w.projects[name]; !ok {
		w.mu.Unlock()
		return fmt.Errorf("project %q: %w", name, ErrNotFound)
	}
	delete(w.projects, name)
	w.mu.Unlock()

	w.notifyProjects()
	return nil
}

// Project returns a copy of the named project.
func (w *Workspace) Project(name string) (*domain.Project, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.projects[name]
	if !ok {
		return nil, fmt.Errorf("project %q: %w", name, ErrNotFound)
	}
	return p.Clone(), nil
}

// Projects returns copies of every project sorted by name.
func (w *Workspace) Projects() []*domain.Project {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*domain.Project, 0, len(w.projects))
	for _, p := range w.projects {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BuildSession returns a session visiting files with a snapshot of the named project.
func (w *Workspace) BuildSession(project string, files ...string) (*controller.Session, error) {
	if len(files) == 0 {
		return nil, controller.ErrEmptySession
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.projects[project]
	if !ok {
		return nil, fmt.Errorf("project %q: %w", project, ErrNotFound)
	}
	return controller.NewSession().Add(p, files...), nil
}

// Sites

func (w *Workspace) AddSite(s Site) error {
	if s.Name == "" {
		return fmt.Errorf("site: %w", ErrNoName)
	}
	w.mu.Lock()
	if _, ok := w.sites[s.Name]; ok {
		w.mu.Unlock()
		return fmt.Errorf("site %q: %w", s.Name, ErrExists)
	}
	w.sites[s.Name] = s
	w.mu.Unlock()

	w.notifySites()
	return nil
}

// RemoveSite fails with ErrInUse while a project's instrument refers to the site.
func (w *Workspace) RemoveSite(name string) error {
	w.mu.Lock()
	if _, ok := w.sites[name]; !ok {
		w.mu.Unlock()
		return fmt.Errorf("site %q: %w", name, ErrNotFound)
	}
	for _, p := range w.projects {
		if p.Instrument.Site == name {
			w.mu.Unlock()
			return fmt.Errorf("site %q used by project %q: %w", name, p.Name, ErrInUse)
		}
	}
	delete(w.sites, name)
	w.mu.Unlock()

	w.notifySites()
	return nil
}

func (w *Workspace) Site(name string) (Site, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.sites[name]
	return s, ok
}

func (w *Workspace) Sites() []Site {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Site, 0, len(w.sites))
	for _, s := range w.sites {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Symbols

func (w *Workspace) AddSymbol(s Symbol) error {
	if s.Name == "" {
		return fmt.Errorf("symbol: %w", ErrNoName)
	}
	w.mu.Lock()
	if _, ok := w.symbols[s.Name]; ok {
		w.mu.Unlock()
		return fmt.Errorf("symbol %q: %w", s.Name, ErrExists)
	}
	w.symbols[s.Name] = s
	w.mu.Unlock()

	w.notifySymbols()
	return nil
}

func (w *Workspace) RemoveSymbol(name string) error {
	w.mu.Lock()
	if _, ok := w.symbols[name]; !ok {
		w.mu.Unlock()
		return fmt.Errorf("symbol %q: %w", name, ErrNotFound)
	}
	delete(w.symbols, name)
	w.mu.Unlock()

	w.notifySymbols()
	return nil
}

func (w *Workspace) Symbols() []Symbol {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Symbol, 0, len(w.symbols))
	for _, s := range w.symbols {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Observers

func (w *Workspace) SubscribeProjects(o ProjectObserver) {
	w.obsMu.Lock()
	defer w.obsMu.Unlock()
	if !slices.Contains(w.projectOb, o) {
		w.projectOb = append(w.projectOb, o)
	}
}

func (w *Workspace) UnsubscribeProjects(o ProjectObserver) {
	w.obsMu.Lock()
	defer w.obsMu.Unlock()
	w.projectOb = slices.DeleteFunc(w.projectOb, func(x ProjectObserver) bool { return x == o })
}

func (w *Workspace) SubscribeSites(o SiteObserver) {
	w.obsMu.Lock()
	defer w.obsMu.Unlock()
	if !slices.Contains(w.siteOb, o) {
		w.siteOb = append(w.siteOb, o)
	}
}

func (w *Workspace) UnsubscribeSites(o SiteObserver) {
	w.obsMu.Lock()
	defer w.obsMu.Unlock()
	w.siteOb = slices.DeleteFunc(w.siteOb, func(x SiteObserver) bool { return x == o })
}

func (w *Workspace) SubscribeSymbols(o SymbolObserver) {
	w.obsMu.Lock()
	defer w.obsMu.Unlock()
	if !slices.Contains(w.symbolOb, o) {
		w.symbolOb = append(w.symbolOb, o)
	}
}

func (w *Workspace) UnsubscribeSymbols(o SymbolObserver) {
	w.obsMu.Lock()
	defer w.obsMu.Unlock()
	w.symbolOb = slices.DeleteFunc(w.symbolOb, func(x SymbolObserver) bool { return x == o })
}

func (w *Workspace) notifyProjects() {
	w.obsMu.Lock()
	obs := slices.Clone(w.projectOb)
	w.obsMu.Unlock()
	for _, o := range obs {
		o.ProjectsChanged()
	}
}

func (w *Workspace) notifySites() {
	w.obsMu.Lock()
	obs := slices.Clone(w.siteOb)
	w.obsMu.Unlock()
	for _, o := range obs {
		o.SitesChanged()
	}
}

func (w *Workspace) notifySymbols() {
	w.obsMu.Lock()
	obs := slices.Clone(w.symbolOb)
	w.obsMu.Unlock()
	for _, o := range obs {
		o.SymbolsChanged()
	}
}
