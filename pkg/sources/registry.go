// Package sources tracks the data sources registered for reconciliation.
package sources

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/barockok/kalla-engine/pkg/apperrors"
	"github.com/barockok/kalla-engine/pkg/models"
)

// Registry is the in-process catalog of registered sources, keyed by
// alias. Registration replaces any prior entry for the same alias.
type Registry struct {
	mu      sync.RWMutex
	byAlias map[string]models.RegisteredSource
	logger  *zap.Logger
}

// NewRegistry creates an empty source registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		byAlias: make(map[string]models.RegisteredSource),
		logger:  logger.Named("sources"),
	}
}

// Register validates and stores a source record.
func (r *Registry) Register(alias, uri string, kind models.SourceKind) (models.RegisteredSource, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return models.RegisteredSource{}, fmt.Errorf("%w: source alias is required", apperrors.ErrValidation)
	}

	switch kind {
	case models.SourcePostgres:
		if _, _, err := ParsePostgresURI(uri); err != nil {
			return models.RegisteredSource{}, err
		}
	case models.SourceCSV:
		if strings.TrimSpace(uri) == "" {
			return models.RegisteredSource{}, fmt.Errorf("%w: csv source %q needs a file URI", apperrors.ErrValidation, alias)
		}
	default:
		return models.RegisteredSource{}, fmt.Errorf("%w: unknown source type %q", apperrors.ErrValidation, kind)
	}

	src := models.RegisteredSource{
		Alias:      alias,
		URI:        uri,
		SourceType: kind,
		Status:     "registered",
	}

	r.mu.Lock()
	r.byAlias[alias] = src
	r.mu.Unlock()

	r.logger.Info("Source registered",
		zap.String("alias", alias),
		zap.String("source_type", string(kind)))
	return src, nil
}

// Get looks up a source by alias.
func (r *Registry) Get(alias string) (models.RegisteredSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.byAlias[alias]
	return src, ok
}

// List returns all registered sources sorted by alias.
func (r *Registry) List() []models.RegisteredSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.RegisteredSource, 0, len(r.byAlias))
	for _, src := range r.byAlias {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// Aliases returns the registered aliases sorted lexically.
func (r *Registry) Aliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byAlias))
	for alias := range r.byAlias {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

// ParsePostgresURI splits a registered postgres URI into the connection
// string and the backing table. The table rides in a ?table= query
// parameter and is stripped from the connection string before use.
func ParsePostgresURI(uri string) (connString, table string, err error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("%w: invalid postgres uri: %v", apperrors.ErrValidation, err)
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return "", "", fmt.Errorf("%w: postgres uri must use postgres:// scheme, got %q", apperrors.ErrValidation, parsed.Scheme)
	}

	query := parsed.Query()
	table = query.Get("table")
	if table == "" {
		return "", "", fmt.Errorf("%w: postgres uri is missing the ?table= parameter", apperrors.ErrValidation)
	}

	query.Del("table")
	parsed.RawQuery = query.Encode()
	return parsed.String(), table, nil
}
