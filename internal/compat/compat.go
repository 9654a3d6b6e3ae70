// Package compat checks that integrated data can be merged into target
// services without unit conflicts.
package compat

import (
	"context"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sensor-harvest/internal/om"
	"github.com/sells-group/sensor-harvest/internal/provider"
	"github.com/sells-group/sensor-harvest/internal/units"
)

var (
	// ErrNoTemplates is returned when a provider exposes no template observation.
	ErrNoTemplates = eris.New("compat: no templates")
	// ErrAmbiguousTemplate is returned when a service holds more than one
	// template for a procedure.
	ErrAmbiguousTemplate = eris.New("compat: ambiguous template")
)

// Target is the read side of a sensor service the checker needs.
type Target interface {
	ID() string
	Label() string
	Templates(ctx context.Context, procedureID string) ([]om.Observation, error)
}

// CompatError is a unit conflict between a file and a service.
type CompatError struct {
	ProcedureID  string `json:"procedure_id"`
	ServiceID    string `json:"service_id"`
	ServiceLabel string `json:"service_label"`
	Message      string `json:"message"`
}

// Report aggregates the outcome of one check.
type Report struct {
	File     string        `json:"file"`
	Warnings []string      `json:"warnings,omitempty"`
	Errors   []CompatError `json:"errors,omitempty"`
}

// Valid reports whether no conversion error was recorded. Warnings do not
// invalidate a report.
func (r *Report) Valid() bool {
	return len(r.Errors) == 0
}

// Blocks reports whether the procedure must not be imported into the service.
func (r *Report) Blocks(procedureID, serviceID string) bool {
	for _, e := range r.Errors {
		if e.ProcedureID == procedureID && e.ServiceID == serviceID {
			return true
		}
	}
	return false
}

// Render writes the report as text: the file line, one line per warning
// and per error, then OK. or KO.
func (r *Report) Render(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "File: %s\n", r.File); err != nil {
		return err
	}
	for _, msg := range r.Warnings {
		if _, err := fmt.Fprintf(w, "[WARNING] %s\n", msg); err != nil {
			return err
		}
	}
	for _, e := range r.Errors {
		if _, err := fmt.Fprintf(w, "[ERROR] sensor %s, service %s: %s\n", e.ProcedureID, e.ServiceLabel, e.Message); err != nil {
			return err
		}
	}
	verdict := "OK."
	if !r.Valid() {
		verdict = "KO."
	}
	_, err := fmt.Fprintln(w, verdict)
	return err
}

// Checker compares the templates of integrated files with the templates
// services already hold. It never writes to a service.
type Checker struct {
	lookup provider.Lookup
	log    *zap.Logger
}

// NewChecker returns a checker resolving providers through lookup.
func NewChecker(lookup provider.Lookup) *Checker {
	return &Checker{
		lookup: lookup,
		log:    zap.L().With(zap.String("component", "compat")),
	}
}

// Check compares the provider's templates against each target.
func (c *Checker) Check(ctx context.Context, providerID string, targets []Target) (*Report, error) {
	p, err := provider.Observation(ctx, c.lookup, providerID)
	if err != nil {
		return nil, eris.Wrap(err, "compat: resolve provider")
	}
	templates, err := p.Templates(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "compat: templates of %s", p.Path())
	}
	if len(templates) == 0 {
		return nil, eris.Wrapf(ErrNoTemplates, "file %s", p.Path())
	}

	report := &Report{File: p.Path()}
	for _, tpl := range templates {
		report.Warnings = append(report.Warnings, unparsableUnits(tpl)...)

		for _, target := range targets {
			existing, err := target.Templates(ctx, tpl.Procedure)
			if err != nil {
				return nil, eris.Wrapf(err, "compat: templates of %s in %s", tpl.Procedure, target.Label())
			}
			switch len(existing) {
			case 0:
				c.log.Debug("compat: sensor is new to service",
					zap.String("sensor", tpl.Procedure), zap.String("service", target.ID()))
				continue
			case 1:
			default:
				return nil, eris.Wrapf(ErrAmbiguousTemplate, "sensor %s has %d templates in %s",
					tpl.Procedure, len(existing), target.Label())
			}

			for _, msg := range conflicts(tpl, existing[0]) {
				report.Errors = append(report.Errors, CompatError{
					ProcedureID:  tpl.Procedure,
					ServiceID:    target.ID(),
					ServiceLabel: target.Label(),
					Message:      msg,
				})
			}
		}
	}

	c.log.Info("compat: check complete",
		zap.String("path", report.File),
		zap.Int("warnings", len(report.Warnings)),
		zap.Int("errors", len(report.Errors)),
	)
	return report, nil
}

func unparsableUnits(tpl om.Observation) []string {
	var out []string
	for _, f := range tpl.Result.Fields {
		if f.UOM == "" {
			continue
		}
		if _, err := units.Parse(f.UOM); err != nil {
			out = append(out, fmt.Sprintf("unit %q of property %s in sensor %s cannot be parsed", f.UOM, f.Name, tpl.Procedure))
		}
	}
	return out
}

// conflicts lists the common fields of file and service whose units differ
// and cannot be converted.
func conflicts(file, service om.Observation) []string {
	var out []string
	for _, f := range file.Result.Fields {
		s, ok := service.Field(f.Name)
		if !ok || f.UOM == "" || s.UOM == "" || f.UOM == s.UOM {
			continue
		}
		if !units.Convertible(f.UOM, s.UOM) {
			out = append(out, fmt.Sprintf("%s => %s for property %s", f.UOM, s.UOM, f.Name))
		}
	}
	return out
}
