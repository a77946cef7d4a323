package parser

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/coderag/pkg/types"
)

// Extractor produces the structural symbols of one source file.
type Extractor interface {
	Language() string
	Parse(filePath string, content []byte) (*types.ParseResult, error)
}

// Registry maps language tags to structural extractors. Adding a language means
// registering an extractor, never branching in the chunker.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// DefaultRegistry returns a registry with the built-in Go and Python extractors.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewGoExtractor(), "go", "golang")
	r.Register(NewPythonExtractor(), "py", "python")
	return r
}

// Register adds an extractor under its own language tag and any aliases.
func (r *Registry) Register(e Extractor, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.extractors[normalizeLanguage(e.Language())] = e
	for _, a := range aliases {
		r.extractors[normalizeLanguage(a)] = e
	}
}

// Lookup returns the extractor registered for language.
func (r *Registry) Lookup(language string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.extractors[normalizeLanguage(language)]
	return e, ok
}

// Languages returns all registered language tags, sorted.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.extractors))
	for name := range r.extractors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeLanguage(lang string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(lang)), ".")
}

// LanguageFromPath derives the language tag of a file from its extension ("py", "go", ...).
func LanguageFromPath(path string) string {
	return normalizeLanguage(filepath.Ext(path))
}
