package spectra

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dontdude/qdoas/internal/domain"
	"github.com/dontdude/qdoas/internal/engine"
)

func testRecords() []Record {
	return []Record{
		{Number: 1, Name: "r1", SZA: 80, HasSZA: true, Lambda: []float64{330, 331, 332, 333}, Signal: []float64{1, 2, 3, 4}},
		{Number: 2, Name: "r2", SZA: 40, HasSZA: true, Lambda: []float64{330, 331, 332, 333}, Signal: []float64{2, 2, 2, 2}},
		{Number: 3, Name: "r3", Lambda: []float64{330, 332, 335}, Signal: []float64{5, 5, 5}},
	}
}

func testProject() *domain.Project {
	return &domain.Project{
		Name:    "p",
		Display: domain.Display{Spectra: true, Data: true, Calibrated: true},
		Windows: []domain.AnalysisWindow{
			{Name: "uv", Enabled: true, Min: 330, Max: 332},
			{Name: "off", Enabled: false, Min: 0, Max: 1},
			{Name: "far", Enabled: true, Min: 500, Max: 600},
		},
	}
}

func newContext(t *testing.T, records []Record, loadErr error) domain.EngineContext {
	t.Helper()
	e := NewEngine(WithLoader(func(string) ([]Record, error) {
		if loadErr != nil {
			return nil, loadErr
		}
		return records, nil
	}))
	ctx, err := e.CreateContext()
	require.NoError(t, err)
	return ctx
}

func TestEngine_BeginRequiresProject(t *testing.T) {
	ctx := newContext(t, testRecords(), nil)
	var sink engine.Payload

	n, err := ctx.BeginSpectra(domain.ModeBrowse, "a.spe", &sink)
	assert.ErrorIs(t, err, domain.ErrNoProject)
	assert.Equal(t, -1, n)
}

func TestEngine_BrowseIteratesRecords(t *testing.T) {
	ctx := newContext(t, testRecords(), nil)
	var sink engine.Payload
	require.NoError(t, ctx.SetProject(testProject(), &sink))

	n, err := ctx.BeginSpectra(domain.ModeBrowse, "a.spe", &sink)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for want := 1; want <= 3; want++ {
		sink = engine.Payload{}
		got, err := ctx.NextMatchingSpectrum(domain.ModeBrowse, &sink)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		require.Len(t, sink.Plots, 1)
		assert.Equal(t, SpectraPage, sink.Plots[0].Page)
		assert.NotEmpty(t, sink.Cells)
	}

	got, err := ctx.NextMatchingSpectrum(domain.ModeBrowse, &sink)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestEngine_DisplayFlagsControlPages(t *testing.T) {
	ctx := newContext(t, testRecords(), nil)
	var sink engine.Payload
	p := testProject()
	p.Display = domain.Display{}
	require.NoError(t, ctx.SetProject(p, &sink))
	_, err := ctx.BeginSpectra(domain.ModeBrowse, "a.spe", &sink)
	require.NoError(t, err)

	_, err = ctx.NextMatchingSpectrum(domain.ModeBrowse, &sink)
	require.NoError(t, err)
	assert.Empty(t, sink.Plots)
	assert.Empty(t, sink.Cells)
}

func TestEngine_SelectionFilter(t *testing.T) {
	ctx := newContext(t, testRecords(), nil)
	var sink engine.Payload
	p := testProject()
	p.Selection = domain.Selection{FilterSZA: true, SZAMax: 60}
	require.NoError(t, ctx.SetProject(p, &sink))

	// Record 1 is above the SZA bound; record 3 has no SZA and always matches.
	assert.Equal(t, []int{2, 3}, walkRecords(t, ctx))
}

func TestEngine_SelectionSZABounds(t *testing.T) {
	records := []Record{
		{Number: 1, SZA: -20, HasSZA: true},
		{Number: 2, SZA: 0, HasSZA: true},
		{Number: 3, SZA: 95, HasSZA: true},
	}
	tests := []struct {
		name string
		sel  domain.Selection
		want []int
	}{
		{"unset bounds are open", domain.Selection{SZAMin: 0, SZAMax: 0}, []int{1, 2, 3}},
		{"zero lower bound is closed", domain.Selection{FilterSZA: true, SZAMin: 0, SZAMax: 90}, []int{2}},
		{"negative lower bound", domain.Selection{FilterSZA: true, SZAMin: -30, SZAMax: 100}, []int{1, 2, 3}},
		{"record range", domain.Selection{RecordMin: 2, RecordMax: 2}, []int{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := newContext(t, records, nil)
			p := testProject()
			p.Selection = tt.sel
			require.NoError(t, ctx.SetProject(p, &engine.Payload{}))
			assert.Equal(t, tt.want, walkRecords(t, ctx))
		})
	}
}

func walkRecords(t *testing.T, ctx domain.EngineContext) []int {
	t.Helper()
	var sink engine.Payload
	_, err := ctx.BeginSpectra(domain.ModeBrowse, "a.spe", &sink)
	require.NoError(t, err)
	var seen []int
	for {
		rec, err := ctx.NextMatchingSpectrum(domain.ModeBrowse, &sink)
		require.NoError(t, err)
		if rec == 0 {
			return seen
		}
		seen = append(seen, rec)
	}
}

func TestEngine_GotoSpectrum(t *testing.T) {
	ctx := newContext(t, testRecords(), nil)
	var sink engine.Payload
	require.NoError(t, ctx.SetProject(testProject(), &sink))
	_, err := ctx.BeginSpectra(domain.ModeBrowse, "a.spe", &sink)
	require.NoError(t, err)

	got, err := ctx.GotoSpectrum(domain.ModeBrowse, 2, &sink)
	require.NoError(t, err)
	assert.Equal(t, 2, got)

	got, err = ctx.NextMatchingSpectrum(domain.ModeBrowse, &sink)
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	_, err = ctx.GotoSpectrum(domain.ModeBrowse, 4, &sink)
	assert.ErrorIs(t, err, domain.ErrRecordOutOfRange)
	_, err = ctx.GotoSpectrum(domain.ModeBrowse, 0, &sink)
	assert.ErrorIs(t, err, domain.ErrRecordOutOfRange)
}

func TestEngine_ModeChecks(t *testing.T) {
	ctx := newContext(t, testRecords(), nil)
	var sink engine.Payload
	require.NoError(t, ctx.SetProject(testProject(), &sink))

	_, err := ctx.NextMatchingSpectrum(domain.ModeBrowse, &sink)
	assert.ErrorIs(t, err, domain.ErrNoFile)

	_, err = ctx.BeginSpectra(domain.ModeAnalyse, "a.spe", &sink)
	require.NoError(t, err)
	_, err = ctx.NextMatchingSpectrum(domain.ModeBrowse, &sink)
	assert.ErrorIs(t, err, domain.ErrModeMismatch)
}

func TestEngine_LoadFailure(t *testing.T) {
	boom := errors.New("boom")
	ctx := newContext(t, nil, boom)
	var sink engine.Payload
	require.NoError(t, ctx.SetProject(testProject(), &sink))

	n, err := ctx.BeginSpectra(domain.ModeBrowse, "a.spe", &sink)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, -1, n)
}

func TestEngine_ReopenWarnsAndEndWithoutFile(t *testing.T) {
	ctx := newContext(t, testRecords(), nil)
	var sink engine.Payload
	require.NoError(t, ctx.SetProject(testProject(), &sink))
	_, err := ctx.BeginSpectra(domain.ModeBrowse, "a.spe", &sink)
	require.NoError(t, err)
	_, err = ctx.BeginSpectra(domain.ModeBrowse, "b.spe", &sink)
	require.NoError(t, err)

	require.Len(t, sink.Errors, 1)
	assert.Equal(t, domain.Warning, sink.Errors[0].Severity)

	require.NoError(t, ctx.EndSpectra(domain.ModeBrowse, &sink))
	require.NoError(t, ctx.EndSpectra(domain.ModeBrowse, &sink))
	require.Len(t, sink.Errors, 2)
	assert.Equal(t, domain.Information, sink.Errors[1].Severity)
}

func TestEngine_SetProjectRejectsInvalidWindow(t *testing.T) {
	ctx := newContext(t, testRecords(), nil)
	var sink engine.Payload
	p := testProject()
	p.Windows[0].Min = 400

	assert.Error(t, ctx.SetProject(p, &sink))
	assert.ErrorIs(t, ctx.SetProject(nil, &sink), domain.ErrNoProject)
}

func TestEngine_AnalyseWindows(t *testing.T) {
	ctx := newContext(t, testRecords(), nil)
	var sink engine.Payload
	require.NoError(t, ctx.SetProject(testProject(), &sink))
	_, err := ctx.BeginSpectra(domain.ModeAnalyse, "a.spe", &sink)
	require.NoError(t, err)

	sink = engine.Payload{}
	_, err = ctx.NextMatchingSpectrum(domain.ModeAnalyse, &sink)
	require.NoError(t, err)

	cells := map[string]any{}
	for i := 0; i+1 < len(sink.Cells); i += 2 {
		if sink.Cells[i].Page == WindowPage {
			cells[sink.Cells[i].Value.(string)] = sink.Cells[i+1].Value
		}
	}
	assert.Equal(t, 3, cells["Points"])
	assert.InDelta(t, 2.0, cells["Mean"], 1e-9)
	assert.InDelta(t, 1.0, cells["Min"], 1e-9)
	assert.InDelta(t, 3.0, cells["Max"], 1e-9)
	assert.InDelta(t, 4.0, cells["Integral"], 1e-9)

	// "far" has no points and only warns.
	require.Len(t, sink.Errors, 1)
	assert.Equal(t, domain.Warning, sink.Errors[0].Severity)
	assert.Contains(t, sink.Errors[0].Message, "far")
}

func TestEngine_Calibrate(t *testing.T) {
	ctx := newContext(t, testRecords(), nil)
	var sink engine.Payload
	require.NoError(t, ctx.SetProject(testProject(), &sink))
	_, err := ctx.BeginSpectra(domain.ModeCalibrate, "a.spe", &sink)
	require.NoError(t, err)

	sink = engine.Payload{}
	got, err := ctx.GotoSpectrum(domain.ModeCalibrate, 3, &sink)
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	cells := map[string]any{}
	for i := 0; i+1 < len(sink.Cells); i += 2 {
		cells[sink.Cells[i].Value.(string)] = sink.Cells[i+1].Value
	}
	assert.InDelta(t, 2.5, cells["Mean step"], 1e-9)
	assert.InDelta(t, 1.0, cells["Drift"], 1e-9)
	assert.Len(t, sink.Plots, 1)
}

func TestEngine_Destroy(t *testing.T) {
	ctx := newContext(t, testRecords(), nil)
	var sink engine.Payload
	require.NoError(t, ctx.Destroy())
	assert.Error(t, ctx.Destroy())
	assert.Error(t, ctx.SetProject(testProject(), &sink))
}

func TestSummarize(t *testing.T) {
	st := summarize([]float64{0, 1, 2}, []float64{0, 2, 4})
	assert.InDelta(t, 2.0, st.mean, 1e-9)
	assert.InDelta(t, 0.0, st.min, 1e-9)
	assert.InDelta(t, 4.0, st.max, 1e-9)
	assert.InDelta(t, 4.0, st.integral, 1e-9)
}
