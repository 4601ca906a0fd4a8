package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/pagedsearch/internal/testutil"
	"github.com/Sternrassler/pagedsearch/pkg/fetch"
	"github.com/Sternrassler/pagedsearch/pkg/httpexec"
	"github.com/Sternrassler/pagedsearch/pkg/record"
)

func newMockClient(t *testing.T, mock *testutil.MockAPI) *httpexec.Client {
	t.Helper()

	nop := zerolog.Nop()
	c, err := httpexec.New(httpexec.Config{
		BaseURL:    mock.URL(),
		HTTPClient: mock.Client(),
		Logger:     &nop,
	})
	require.NoError(t, err)
	return c
}

func TestHTTPSource_Load(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetReference("/stores", []record.Row{
		{"id": "S1", "name": "Main Street"},
		{"id": "S2", "name": "Harbour"},
	})

	source := NewHTTPSource(newMockClient(t, mock), "")
	ref, err := source.Load(context.Background(), "stores")
	require.NoError(t, err)

	require.Len(t, ref, 2)
	assert.Equal(t, "Harbour", ref["S2"]["name"])
	assert.Equal(t, 1, mock.PathCount("/stores"))
}

func TestHTTPSource_CustomIDField(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetReference("/suppliers", []record.Row{{"code": 7, "name": "Miller & Sons"}})

	ref, err := NewHTTPSource(newMockClient(t, mock), "code").Load(context.Background(), "suppliers")
	require.NoError(t, err)
	assert.Equal(t, "Miller & Sons", ref["7"]["name"])
}

func TestHTTPSource_ServerError(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse("/stores", testutil.NewServerErrorResponse())

	_, err := NewHTTPSource(newMockClient(t, mock), "").Load(context.Background(), "stores")

	var netErr *fetch.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, fetch.ErrorClassServer, netErr.Class)
}
