package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/sensor-harvest/internal/om"
)

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func mustMapping(t *testing.T, params map[string]string) Mapping {
	t.Helper()
	m, err := ParseMapping(params)
	require.NoError(t, err)
	return m
}

func extractCSV(t *testing.T, path string, params map[string]string) *om.ExtractionResult {
	t.Helper()
	m := mustMapping(t, params)
	res, err := NewExtractor(NewCSVTable(path, m), m).Extract(context.Background())
	require.NoError(t, err)
	return res
}

var timeseriesParams = map[string]string{
	ParamMainColumn:      "DATE",
	ParamDateFormat:      "yyyy-MM-dd'T'HH:mm:ss",
	ParamLongitudeColumn: "LON",
	ParamLatitudeColumn:  "LAT",
	ParamMeasureColumns:  "TEMP",
	ParamObservationType: "Timeserie",
}

func TestExtract_ThreeRowTimeseries(t *testing.T) {
	path := writeCSV(t, "station-a.csv", "DATE,LAT,LON,TEMP\n"+
		"2024-01-01T00:00:00,45.0,-1.5,12.5\n"+
		"2024-01-01T01:00:00,45.0,-1.5,12.7\n"+
		"2024-01-01T02:00:00,45.0,-1.5,12.9\n")

	res := extractCSV(t, path, timeseriesParams)

	require.Len(t, res.Phenomena, 1)
	assert.Equal(t, "TEMP", res.Phenomena[0].ID)
	require.Len(t, res.Phenomena[0].Components, 1)
	assert.Equal(t, "TEMP", res.Phenomena[0].Components[0].Name)

	require.Len(t, res.Observations, 1)
	obs := res.Observations[0]
	assert.Equal(t, "station-a", obs.Procedure)
	assert.Equal(t, 3, obs.Result.Count)
	assert.Equal(t, []string{"DATE", "TEMP"}, om.FieldNames(obs.Result.Fields))
	assert.Equal(t, om.FieldTime, obs.Result.Fields[0].Type)
	assert.Equal(t,
		"2024-01-01T00:00:00Z,12.5@@2024-01-01T01:00:00Z,12.7@@2024-01-01T02:00:00Z,12.9@@",
		obs.Result.Values)

	require.Len(t, res.FeaturesOfInterest, 1)
	_, isPoint := res.FeaturesOfInterest[0].Geometry.(*geom.Point)
	assert.True(t, isPoint)
	assert.Equal(t, "station-a-sf", res.FeaturesOfInterest[0].ID)

	ext := res.Bound.TemporalExtent()
	require.False(t, ext.IsEmpty())
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *ext.Begin)
	assert.Equal(t, time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC), *ext.End)
	env, ok := res.Bound.Envelope()
	require.True(t, ok)
	assert.Equal(t, om.Envelope{MinLon: -1.5, MinLat: 45, MaxLon: -1.5, MaxLat: 45}, env)
	assert.Equal(t, ext, obs.SamplingTime)

	require.Len(t, res.ProcedureTrees, 1)
	assert.Equal(t, om.ComponentType, res.ProcedureTrees[0].Type)
	assert.Equal(t, []string{"TEMP"}, res.ProcedureTrees[0].MeasuredFields)
}

func TestExtract_MovingPositionsBuildCurve(t *testing.T) {
	path := writeCSV(t, "glider.csv", "DATE,LAT,LON,TEMP\n"+
		"2024-01-01T00:00:00,45.0,-1.5,12.5\n"+
		"2024-01-01T01:00:00,45.0,-1.5,12.7\n"+
		"2024-01-01T02:00:00,45.5,-1.0,12.9\n")

	res := extractCSV(t, path, timeseriesParams)

	require.Len(t, res.FeaturesOfInterest, 1)
	f := res.FeaturesOfInterest[0]
	assert.True(t, f.IsCurve())
	assert.Equal(t, []float64{-1.5, 45, -1, 45.5}, f.Geometry.FlatCoords())
	assert.Equal(t, f.Geometry, res.Bound.Geometry)

	env, ok := res.Bound.Envelope()
	require.True(t, ok)
	assert.Equal(t, om.Envelope{MinLon: -1.5, MinLat: 45, MaxLon: -1, MaxLat: 45.5}, env)
}

func TestExtract_CurveKeepsDistinctPositions(t *testing.T) {
	path := writeCSV(t, "glider.csv", "DATE,LAT,LON,TEMP\n"+
		"2024-01-01T00:00:00,45.0,-1.5,12.5\n"+
		"2024-01-01T01:00:00,45.5,-1.0,12.7\n"+
		"2024-01-01T02:00:00,45.0,-1.5,12.9\n")

	res := extractCSV(t, path, timeseriesParams)

	require.Len(t, res.FeaturesOfInterest, 1)
	f := res.FeaturesOfInterest[0]
	assert.True(t, f.IsCurve())
	assert.Equal(t, []float64{-1.5, 45, -1, 45.5}, f.Geometry.FlatCoords())
}

func TestExtract_TwiceIsIdenticalExceptIDs(t *testing.T) {
	path := writeCSV(t, "twice.csv", "DATE,LAT,LON,TEMP\n"+
		"2024-01-01T00:00:00,45.0,-1.5,12.5\n"+
		"2024-01-01T01:00:00,45.1,-1.4,12.7\n")

	a := extractCSV(t, path, timeseriesParams)
	b := extractCSV(t, path, timeseriesParams)

	require.Len(t, a.Observations, 1)
	require.Len(t, b.Observations, 1)
	assert.NotEqual(t, a.Observations[0].ID, b.Observations[0].ID)

	a.Observations[0].ID, b.Observations[0].ID = "", ""
	assert.Equal(t, a.Observations, b.Observations)
	assert.Equal(t, a.Fields, b.Fields)
	assert.Equal(t, a.ProcedureTrees[0].MeasuredFields, b.ProcedureTrees[0].MeasuredFields)
	assert.Equal(t, a.Bound.TemporalExtent(), b.Bound.TemporalExtent())
}

func TestExtract_UnparsableCellBecomesZero(t *testing.T) {
	path := writeCSV(t, "bad-cell.csv", "DATE,TEMP,PSAL\n"+
		"2024-01-01T00:00:00,12.5,35.1\n"+
		"2024-01-01T01:00:00,n/a,35.2\n")

	res := extractCSV(t, path, map[string]string{
		ParamMainColumn: "DATE",
		ParamDateFormat: "yyyy-MM-dd'T'HH:mm:ss",
	})

	require.Len(t, res.Observations, 1)
	assert.Equal(t, 2, res.Observations[0].Result.Count)
	assert.Equal(t,
		"2024-01-01T00:00:00Z,12.5,35.1@@2024-01-01T01:00:00Z,0,35.2@@",
		res.Observations[0].Result.Values)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, om.Warning{Row: 3, Column: "TEMP", Value: "n/a"}, res.Warnings[0])

	assert.True(t, res.Phenomena[0].IsComposite())
}

func TestExtract_ProfileSkipsUnparsableMain(t *testing.T) {
	path := writeCSV(t, "profile.csv", "DEPTH;TEMP;DATE\n"+
		"0,5;12,5;2024-01-01\n"+
		"oops;12,4;2024-01-01\n"+
		"10;11,9;2024-01-01\n")

	res := extractCSV(t, path, map[string]string{
		ParamSeparator:        ";",
		ParamMainColumn:       "DEPTH",
		ParamDateColumn:       "DATE",
		ParamDateFormat:       "yyyy-MM-dd",
		ParamMeasureColumns:   "TEMP",
		ParamObservationType:  "Profile",
		ParamDecimalSeparator: ",",
	})

	require.Len(t, res.Observations, 1)
	obs := res.Observations[0]
	assert.Equal(t, 2, obs.Result.Count)
	assert.Equal(t, "0.5,12.5@@10,11.9@@", obs.Result.Values)
	assert.Equal(t, []string{"DEPTH", "TEMP"}, om.FieldNames(obs.Result.Fields))
	assert.Equal(t, om.FieldQuantity, obs.Result.Fields[0].Type)
	assert.Empty(t, res.Warnings)
	assert.True(t, obs.SamplingTime.IsInstant())
}

func TestExtract_TrajectoryKeepsPositionInPayload(t *testing.T) {
	path := writeCSV(t, "track.csv", "DATE,LON,LAT,TEMP\n"+
		"2024-01-01T00:00:00Z,1,2,10\n"+
		"2024-01-01T00:10:00Z,3,4,11\n")

	res := extractCSV(t, path, map[string]string{
		ParamMainColumn:      "DATE",
		ParamLongitudeColumn: "LON",
		ParamLatitudeColumn:  "LAT",
		ParamMeasureColumns:  "TEMP",
		ParamObservationType: "Trajectory",
	})

	obs := res.Observations[0]
	assert.Equal(t, []string{"DATE", "LON", "LAT", "TEMP"}, om.FieldNames(obs.Result.Fields))
	assert.Equal(t, "2024-01-01T00:00:00Z,1,2,10@@2024-01-01T00:10:00Z,3,4,11@@", obs.Result.Values)
	assert.Equal(t, []string{"TEMP"}, om.FieldNames(obs.Phenomenon.Components))
}

func TestExtract_ExtractUOM(t *testing.T) {
	path := writeCSV(t, "uom.csv", "DATE,TEMP (Cel),PSAL (1e-3)\n"+
		"2024-01-01T00:00:00Z,12.5,35\n")

	res := extractCSV(t, path, map[string]string{
		ParamMainColumn:       "DATE",
		ParamMeasureColumns:   "TEMP|PSAL",
		ParamMeasureSeparator: "|",
		ParamExtractUOM:       "true",
	})

	require.Len(t, res.Fields, 3)
	assert.Equal(t, om.Field{Name: "TEMP", UOM: "Cel", Ordinal: 2, Type: om.FieldQuantity}, res.Fields[1])
	assert.Equal(t, om.Field{Name: "PSAL", UOM: "1e-3", Ordinal: 3, Type: om.FieldQuantity}, res.Fields[2])
}

func TestExtract_GroupsByFeatureOfInterest(t *testing.T) {
	path := writeCSV(t, "multi.csv", "STATION,DATE,LAT,LON,TEMP\n"+
		"B,2024-01-01T00:00:00Z,1,1,10\n"+
		"A,2024-01-01T00:00:00Z,2,2,20\n"+
		"B,2024-01-01T01:00:00Z,1,1,11\n")

	res := extractCSV(t, path, map[string]string{
		ParamMainColumn:      "DATE",
		ParamLongitudeColumn: "LON",
		ParamLatitudeColumn:  "LAT",
		ParamMeasureColumns:  "TEMP",
		ParamFOIColumn:       "STATION",
		ParamProcedureID:     "network-1",
	})

	require.Len(t, res.Observations, 2)
	assert.Equal(t, "B", res.Observations[0].FeatureOfInterest.ID)
	assert.Equal(t, 2, res.Observations[0].Result.Count)
	assert.Equal(t, "A", res.Observations[1].FeatureOfInterest.ID)
	assert.Equal(t, 1, res.Observations[1].Result.Count)
	for _, o := range res.Observations {
		assert.Equal(t, "network-1", o.Procedure)
	}
	assert.Len(t, res.FeaturesOfInterest, 2)
	assert.Nil(t, res.Bound.Geometry)
}

func TestExtract_MissingHeader(t *testing.T) {
	path := writeCSV(t, "nohdr.csv", "TIME,TEMP\n2024-01-01T00:00:00Z,1\n")
	m := mustMapping(t, map[string]string{ParamMainColumn: "DATE"})

	_, err := NewExtractor(NewCSVTable(path, m), m).Extract(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingHeaders)
	assert.Contains(t, err.Error(), "nohdr.csv")
}

func TestExtract_EmptyFile(t *testing.T) {
	path := writeCSV(t, "empty.csv", "")
	m := mustMapping(t, map[string]string{ParamMainColumn: "DATE"})

	_, err := NewExtractor(NewCSVTable(path, m), m).Extract(context.Background())
	assert.ErrorIs(t, err, ErrMissingHeaders)
}

func TestExtract_BadDateIsFatal(t *testing.T) {
	path := writeCSV(t, "baddate.csv", "DATE,TEMP\n2024-01-01T00:00:00Z,1\nyesterday,2\n")
	m := mustMapping(t, map[string]string{ParamMainColumn: "DATE"})

	_, err := NewExtractor(NewCSVTable(path, m), m).Extract(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "baddate.csv line 3")
	assert.Contains(t, err.Error(), "yesterday")
}

func TestExtract_HeaderOnlyHasNoObservations(t *testing.T) {
	path := writeCSV(t, "header-only.csv", "DATE,TEMP\n")
	res := extractCSV(t, path, map[string]string{ParamMainColumn: "DATE"})

	assert.Empty(t, res.Observations)
	assert.True(t, res.Bound.IsEmpty())
	require.Len(t, res.ProcedureTrees, 1)
}

func TestSecondaryQueries(t *testing.T) {
	path := writeCSV(t, "ctd.csv", "DATE,LAT,LON,TEMP,PSAL\n"+
		"2024-03-01T00:00:00Z,45.0,-1.5,12.5,35\n"+
		"2024-02-01T00:00:00Z,46.0,-2.5,12.7,35\n")
	m := mustMapping(t, map[string]string{
		ParamMainColumn:      "DATE",
		ParamLongitudeColumn: "LON",
		ParamLatitudeColumn:  "LAT",
	})
	e := NewExtractor(NewCSVTable(path, m), m)
	ctx := context.Background()

	names, err := e.PhenomenonNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"TEMP", "PSAL"}, names)

	ext, err := e.TemporalBounds(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), *ext.Begin)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *ext.End)

	templates, err := e.Templates(ctx)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.True(t, templates[0].IsTemplate())
	assert.Equal(t, "ctd", templates[0].Procedure)
	assert.Equal(t, []string{"DATE", "TEMP", "PSAL"}, om.FieldNames(templates[0].Result.Fields))

	trees, err := e.Procedures(ctx)
	require.NoError(t, err)
	require.Len(t, trees, 1)
	assert.Equal(t, "ctd", trees[0].ID)
	assert.Equal(t, []string{"TEMP", "PSAL"}, trees[0].MeasuredFields)
	env, ok := trees[0].Bound.Envelope()
	require.True(t, ok)
	assert.Equal(t, om.Envelope{MinLon: -2.5, MinLat: 45, MaxLon: -1.5, MaxLat: 46}, env)

	full, err := e.Extract(ctx)
	require.NoError(t, err)
	assert.Equal(t, full.ProcedureTrees[0].MeasuredFields, trees[0].MeasuredFields)
	assert.Equal(t, full.Bound.TemporalExtent(), trees[0].Bound.TemporalExtent())
}

func TestExtract_Latin1Charset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latin1.csv")
	// "TEMPÉRATURE" with É encoded as 0xC9.
	content := []byte("DATE,TEMP\xc9RATURE\n2024-01-01T00:00:00Z,3\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	res := extractCSV(t, path, map[string]string{
		ParamMainColumn: "DATE",
		ParamCharset:    "latin1",
	})
	assert.Equal(t, "TEMPÉRATURE", res.Fields[1].Name)
}

func TestExtract_CancelledContext(t *testing.T) {
	var b strings.Builder
	b.WriteString("DATE,TEMP\n")
	for i := 0; i < 500; i++ {
		b.WriteString("2024-01-01T00:00:00Z,1\n")
	}
	path := writeCSV(t, "big.csv", b.String())
	m := mustMapping(t, map[string]string{ParamMainColumn: "DATE"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewExtractor(NewCSVTable(path, m), m).Extract(ctx)
	assert.Error(t, err)
}
