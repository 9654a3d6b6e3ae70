// Package provider opens harvested files as observation sources. Providers
// are built from their stored configuration by a Factory and resolved by id
// through an injected Lookup.
package provider

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sensor-harvest/internal/om"
)

// ErrNotObservationProvider is returned when a provider cannot serve observations.
var ErrNotObservationProvider = eris.New("provider: not an observation provider")

// StoreKind selects how files under a datasource are read.
type StoreKind string

const (
	KindCSV  StoreKind = "csv"
	KindXLSX StoreKind = "xlsx"
	KindFile StoreKind = "file"
)

// ParseStoreKind validates a store kind name.
func ParseStoreKind(s string) (StoreKind, error) {
	switch k := StoreKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindCSV, KindXLSX, KindFile:
		return k, nil
	default:
		return "", eris.Errorf("provider: unknown store kind %q (valid: csv, xlsx, file)", s)
	}
}

// Extensions lists the file extensions the kind reads. Nil means any file.
func (k StoreKind) Extensions() []string {
	switch k {
	case KindCSV:
		return []string{".csv"}
	case KindXLSX:
		return []string{".xlsx"}
	default:
		return nil
	}
}

// Matches reports whether path has an extension the kind reads.
func (k StoreKind) Matches(path string) bool {
	exts := k.Extensions()
	if exts == nil {
		return true
	}
	return slices.Contains(exts, strings.ToLower(filepath.Ext(path)))
}

// Provider exposes the resources of one harvested file.
type Provider interface {
	ID() string
	Kind() StoreKind
	Path() string
	// Resources names the resources the file holds. An empty list means the
	// file carries no data.
	Resources(ctx context.Context) ([]string, error)
}

// ObservationProvider is a provider whose resources are observations.
type ObservationProvider interface {
	Provider
	// Observations extracts the file. A non-empty procedureID narrows the
	// result to that procedure.
	Observations(ctx context.Context, procedureID string) (*om.ExtractionResult, error)
	Templates(ctx context.Context) ([]om.Observation, error)
	ProcedureTrees(ctx context.Context) ([]om.ProcedureTree, error)
	PhenomenonNames(ctx context.Context) ([]string, error)
	TemporalBounds(ctx context.Context) (om.TemporalExtent, error)
}

// Lookup resolves provider ids to providers.
type Lookup interface {
	Provider(ctx context.Context, id string) (Provider, error)
}

// Observation resolves id through l and asserts it serves observations.
func Observation(ctx context.Context, l Lookup, id string) (ObservationProvider, error) {
	p, err := l.Provider(ctx, id)
	if err != nil {
		return nil, err
	}
	op, ok := p.(ObservationProvider)
	if !ok {
		return nil, eris.Wrapf(ErrNotObservationProvider, "provider %s (%s)", id, p.Kind())
	}
	return op, nil
}
