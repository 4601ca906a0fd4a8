package enrich

import (
	"context"
	"fmt"

	"github.com/Sternrassler/pagedsearch/pkg/httpexec"
	"github.com/Sternrassler/pagedsearch/pkg/record"
)

// DefaultIDField is the field reference records are keyed by.
const DefaultIDField = "id"

// HTTPSource loads reference lists with GET {base}/{kind}.
type HTTPSource struct {
	client  *httpexec.Client
	idField string
}

// NewHTTPSource creates a source reading from client. An empty idField
// selects DefaultIDField.
func NewHTTPSource(client *httpexec.Client, idField string) *HTTPSource {
	if idField == "" {
		idField = DefaultIDField
	}
	return &HTTPSource{client: client, idField: idField}
}

// Load implements Source.
func (s *HTTPSource) Load(ctx context.Context, kind string) (map[string]record.Row, error) {
	var rows []record.Row
	if err := s.client.GetJSON(ctx, "/"+kind, nil, &rows); err != nil {
		return nil, err
	}
	return index(rows, s.idField)
}

// StaticSource serves fixed reference lists.
type StaticSource map[string][]record.Row

// Load implements Source.
func (s StaticSource) Load(_ context.Context, kind string) (map[string]record.Row, error) {
	rows, ok := s[kind]
	if !ok {
		return nil, fmt.Errorf("unknown reference kind %q", kind)
	}
	return index(rows, DefaultIDField)
}

func index(rows []record.Row, idField string) (map[string]record.Row, error) {
	out := make(map[string]record.Row, len(rows))
	for i, row := range rows {
		id, ok := row.String(idField)
		if !ok {
			return nil, fmt.Errorf("reference record %d has no %q", i, idField)
		}
		out[id] = row
	}
	return out, nil
}
