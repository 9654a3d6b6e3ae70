package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sensor-harvest/internal/repository"
)

const buoyCSV = "DATE,LAT,LON,TEMP\n" +
	"2024-01-01T00:00:00Z,45,-1.5,12.5\n" +
	"2024-01-01T01:00:00Z,45,-1.5,12.6\n"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

var buoyParams = map[string]string{
	"main_column":      "DATE",
	"longitude_column": "LON",
	"latitude_column":  "LAT",
	"measure_columns":  "TEMP",
}

func TestStoreKind(t *testing.T) {
	k, err := ParseStoreKind(" CSV ")
	require.NoError(t, err)
	assert.Equal(t, KindCSV, k)

	_, err = ParseStoreKind("netcdf")
	assert.Error(t, err)

	tests := []struct {
		kind StoreKind
		path string
		want bool
	}{
		{KindCSV, "/a/b.csv", true},
		{KindCSV, "/a/b.CSV", true},
		{KindCSV, "/a/notes.txt", false},
		{KindCSV, "/a/b.xlsx", false},
		{KindXLSX, "/a/b.xlsx", true},
		{KindXLSX, "/a/b.csv", false},
		{KindFile, "/a/b.nc", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.Matches(tt.path), "%s %s", tt.kind, tt.path)
	}
}

func TestFactory_CSVProvider(t *testing.T) {
	path := writeFile(t, "buoy-1.csv", buoyCSV)
	p, err := NewFactory().Open(Config{ID: "p1", Kind: KindCSV, Path: path, Params: buoyParams})
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, "p1", p.ID())
	assert.Equal(t, path, p.Path())

	resources, err := p.Resources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"buoy-1"}, resources)

	op, ok := p.(ObservationProvider)
	require.True(t, ok)

	res, err := op.Observations(ctx, "buoy-1")
	require.NoError(t, err)
	require.Len(t, res.Observations, 1)
	assert.Equal(t, 2, res.Observations[0].Result.Count)

	none, err := op.Observations(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none.Observations)

	trees, err := op.ProcedureTrees(ctx)
	require.NoError(t, err)
	require.Len(t, trees, 1)
	assert.Equal(t, []string{"TEMP"}, trees[0].MeasuredFields)

	names, err := op.PhenomenonNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"TEMP"}, names)

	templates, err := op.Templates(ctx)
	require.NoError(t, err)
	require.Len(t, templates, 1)

	ext, err := op.TemporalBounds(ctx)
	require.NoError(t, err)
	assert.False(t, ext.IsEmpty())
}

func TestFactory_HeaderOnlyHasNoResources(t *testing.T) {
	path := writeFile(t, "empty.csv", "DATE,TEMP\n")
	p, err := NewFactory().Open(Config{ID: "p1", Kind: KindCSV, Path: path, Params: map[string]string{"main_column": "DATE"}})
	require.NoError(t, err)

	resources, err := p.Resources(context.Background())
	require.NoError(t, err)
	assert.Empty(t, resources)
}

func TestFactory_InvalidMapping(t *testing.T) {
	_, err := NewFactory().Open(Config{ID: "p1", Kind: KindCSV, Path: "/x.csv", Params: map[string]string{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/x.csv")
}

func TestFactory_FileProvider(t *testing.T) {
	path := writeFile(t, "report.pdf", "%PDF")
	p, err := NewFactory().Open(Config{ID: "f1", Kind: KindFile, Path: path})
	require.NoError(t, err)

	resources, err := p.Resources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"report.pdf"}, resources)

	_, ok := p.(ObservationProvider)
	assert.False(t, ok)
}

type fakeSource struct {
	records map[string]*repository.Provider
	calls   int
}

func (f *fakeSource) Provider(_ context.Context, id string) (*repository.Provider, error) {
	f.calls++
	rec, ok := f.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec, nil
}

func TestRegistry_CachesAndEvicts(t *testing.T) {
	path := writeFile(t, "buoy-1.csv", buoyCSV)
	src := &fakeSource{records: map[string]*repository.Provider{
		"p1": {ID: "p1", Kind: "csv", Path: path, Params: buoyParams},
		"f1": {ID: "f1", Kind: "file", Path: path},
	}}
	reg := NewRegistry(src, NewFactory())
	ctx := context.Background()

	a, err := reg.Provider(ctx, "p1")
	require.NoError(t, err)
	b, err := reg.Provider(ctx, "p1")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, src.calls)

	reg.Evict("p1")
	_, err = reg.Provider(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)

	_, err = reg.Provider(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	op, err := Observation(ctx, reg, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", op.ID())

	_, err = Observation(ctx, reg, "f1")
	assert.ErrorIs(t, err, ErrNotObservationProvider)
}
