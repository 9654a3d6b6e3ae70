package provider

import (
	"context"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sensor-harvest/internal/extract"
	"github.com/sells-group/sensor-harvest/internal/om"
)

// Config is what a provider is opened from.
type Config struct {
	ID     string
	Kind   StoreKind
	Path   string
	Params map[string]string
}

// Factory builds providers from their configuration.
type Factory struct{}

// NewFactory returns a provider factory.
func NewFactory() *Factory {
	return &Factory{}
}

// Open builds the provider described by cfg. Column mapping parameters are
// validated for observation-capable kinds.
func (f *Factory) Open(cfg Config) (Provider, error) {
	switch cfg.Kind {
	case KindCSV, KindXLSX:
		m, err := extract.ParseMapping(cfg.Params)
		if err != nil {
			return nil, eris.Wrapf(err, "provider: open %s", cfg.Path)
		}
		var t extract.Table
		if cfg.Kind == KindXLSX {
			t = extract.NewXLSXTable(cfg.Path, m)
		} else {
			t = extract.NewCSVTable(cfg.Path, m)
		}
		return &TableProvider{cfg: cfg, extractor: extract.NewExtractor(t, m)}, nil
	case KindFile:
		return &FileProvider{cfg: cfg}, nil
	default:
		return nil, eris.Errorf("provider: unknown store kind %q for %s", cfg.Kind, cfg.Path)
	}
}

// TableProvider serves observations extracted from a CSV or XLSX file.
type TableProvider struct {
	cfg       Config
	extractor *extract.Extractor
}

var _ ObservationProvider = (*TableProvider)(nil)

func (p *TableProvider) ID() string      { return p.cfg.ID }
func (p *TableProvider) Kind() StoreKind { return p.cfg.Kind }
func (p *TableProvider) Path() string    { return p.cfg.Path }

// Resources returns the procedure ids that carry at least one observation.
func (p *TableProvider) Resources(ctx context.Context) ([]string, error) {
	res, err := p.extractor.Extract(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	seen := map[string]bool{}
	for _, o := range res.Observations {
		if !seen[o.Procedure] {
			seen[o.Procedure] = true
			ids = append(ids, o.Procedure)
		}
	}
	return ids, nil
}

func (p *TableProvider) Observations(ctx context.Context, procedureID string) (*om.ExtractionResult, error) {
	res, err := p.extractor.Extract(ctx)
	if err != nil {
		return nil, err
	}
	if procedureID == "" {
		return res, nil
	}
	return res.ForProcedure(procedureID), nil
}

func (p *TableProvider) Templates(ctx context.Context) ([]om.Observation, error) {
	return p.extractor.Templates(ctx)
}

func (p *TableProvider) ProcedureTrees(ctx context.Context) ([]om.ProcedureTree, error) {
	return p.extractor.Procedures(ctx)
}

func (p *TableProvider) PhenomenonNames(ctx context.Context) ([]string, error) {
	return p.extractor.PhenomenonNames(ctx)
}

func (p *TableProvider) TemporalBounds(ctx context.Context) (om.TemporalExtent, error) {
	return p.extractor.TemporalBounds(ctx)
}

// FileProvider exposes a file as a single opaque resource.
type FileProvider struct {
	cfg Config
}

func (p *FileProvider) ID() string      { return p.cfg.ID }
func (p *FileProvider) Kind() StoreKind { return p.cfg.Kind }
func (p *FileProvider) Path() string    { return p.cfg.Path }

// Resources returns the file name, or nothing for an empty file.
func (p *FileProvider) Resources(_ context.Context) ([]string, error) {
	info, err := os.Stat(p.cfg.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: stat %s", p.cfg.Path)
	}
	if info.Size() == 0 {
		return nil, nil
	}
	return []string{info.Name()}, nil
}
