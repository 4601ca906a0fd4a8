package enrich

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/pagedsearch/pkg/logging"
	"github.com/Sternrassler/pagedsearch/pkg/record"
)

// DefaultFallback is written when a referenced record does not exist.
const DefaultFallback = "N/A"

// Join copies Attr of the Kind record referenced by row[Field] into row[As].
type Join struct {
	Field string
	Kind  string
	Attr  string
	As    string

	// Fallback is written when the reference is missing (default: DefaultFallback)
	Fallback string
}

// Source loads a reference list keyed by record id.
type Source interface {
	Load(ctx context.Context, kind string) (map[string]record.Row, error)
}

// Enricher applies joins to rows. It implements fetch.Enricher.
type Enricher struct {
	source Source
	joins  []Join
	logger zerolog.Logger
}

// New creates an enricher.
func New(source Source, joins []Join, logger *zerolog.Logger) (*Enricher, error) {
	if source == nil {
		return nil, fmt.Errorf("reference source is required")
	}

	normalized := make([]Join, 0, len(joins))
	for i, j := range joins {
		if j.Field == "" || j.Kind == "" || j.Attr == "" {
			return nil, fmt.Errorf("join %d: field, kind and attr are required", i)
		}
		if j.As == "" {
			j.As = j.Kind + "." + j.Attr
		}
		if j.Fallback == "" {
			j.Fallback = DefaultFallback
		}
		normalized = append(normalized, j)
	}

	l := logging.NewLogger("enrich")
	if logger != nil {
		l = *logger
	}

	return &Enricher{source: source, joins: normalized, logger: l}, nil
}

// Joins returns the configured joins.
func (e *Enricher) Joins() []Join {
	return e.joins
}

// Enrich returns copies of rows with every join applied. Input rows are not
// modified. Each reference kind is loaded once per call.
func (e *Enricher) Enrich(ctx context.Context, rows []record.Row) ([]record.Row, error) {
	if len(e.joins) == 0 || len(rows) == 0 {
		return rows, nil
	}

	refs := make(map[string]map[string]record.Row, len(e.joins))
	for _, j := range e.joins {
		if _, ok := refs[j.Kind]; ok {
			continue
		}
		ref, err := e.source.Load(ctx, j.Kind)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", j.Kind, err)
		}
		refs[j.Kind] = ref
	}

	out := make([]record.Row, len(rows))
	missing := 0
	for i, row := range rows {
		enriched := row.Clone()
		for _, j := range e.joins {
			enriched[j.As] = j.Fallback

			id, ok := row.String(j.Field)
			if !ok {
				missing++
				continue
			}
			ref, ok := refs[j.Kind][id]
			if !ok {
				missing++
				continue
			}
			if v, ok := ref[j.Attr]; ok && v != nil {
				enriched[j.As] = v
			}
		}
		out[i] = enriched
	}

	if missing > 0 {
		e.logger.Debug().
			Int("rows", len(rows)).
			Int("missing", missing).
			Msg("Rows reference unknown records")
	}

	return out, nil
}
