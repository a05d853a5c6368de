package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dontdude/qdoas/internal/domain"
	"github.com/dontdude/qdoas/internal/engine"
)

func TestRequestKinds(t *testing.T) {
	tests := []struct {
		req  domain.Request
		kind string
	}{
		{engine.NewBeginBrowseFile("a.spe"), "begin_browse_file"},
		{engine.NewAnalyseNextRecord(), "analyse_next_record"},
		{engine.NewCalibrateSpecificRecord(3), "calibrate_specific_record"},
		{engine.NewEndAnalyseFile(), "end_analyse_file"},
		{engine.NewSetProject(&domain.Project{Name: "p"}), KindSetProject},
		{engine.NewBatchAnalysis(domain.RunSpec{Image: "qdoas"}), KindBatchAnalysis},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			env, err := EncodeRequest(tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, env.Kind)
		})
	}
	assert.Equal(t, "begin_calibrate_file", BeginFileKind(domain.ModeCalibrate))
}

func TestCompoundSurvivesJSON(t *testing.T) {
	project := &domain.Project{Name: "p", Windows: []domain.AnalysisWindow{{Name: "uv", Enabled: true, Min: 1, Max: 2}}}
	req := engine.NewCompound(
		engine.NewEndBrowseFile(),
		engine.NewSetProject(project),
		engine.NewBeginBrowseFile("b.spe"),
		engine.NewBrowseSpecificRecord(7),
	)

	env, err := EncodeRequest(req)
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)

	var back domain.RequestEnvelope
	require.NoError(t, json.Unmarshal(data, &back))
	decoded, err := DecodeRequest(back)
	require.NoError(t, err)

	c, ok := decoded.(*engine.Compound)
	require.True(t, ok)
	children := c.Children()
	require.Len(t, children, 4)
	assert.Equal(t, &engine.EndFile{Mode: domain.ModeBrowse}, children[0])
	sp, ok := children[1].(*engine.SetProject)
	require.True(t, ok)
	assert.True(t, sp.Project().Equal(project))
	assert.Equal(t, &engine.BeginFile{Mode: domain.ModeBrowse, File: "b.spe"}, children[2])
	assert.Equal(t, &engine.SpecificRecord{Mode: domain.ModeBrowse, Record: 7}, children[3])
}

func TestDecodeRequest_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  domain.RequestEnvelope
	}{
		{"unknown", domain.RequestEnvelope{Kind: "rewind"}},
		{"project", domain.RequestEnvelope{Kind: KindSetProject}},
		{"run", domain.RequestEnvelope{Kind: KindBatchAnalysis}},
		{"file", domain.RequestEnvelope{Kind: "begin_browse_file"}},
		{"child", domain.RequestEnvelope{Kind: KindCompound, Children: []domain.RequestEnvelope{{Kind: "rewind"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest(tt.env)
			assert.Error(t, err)
		})
	}

	_, err := DecodeRequest(domain.RequestEnvelope{Kind: "rewind"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestEncodeRequest_RejectsIdleMode(t *testing.T) {
	_, err := EncodeRequest(&engine.NextRecord{Mode: domain.ModeNone})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

type handler struct {
	events []string
	plots  int
}

func (h *handler) ReportErrors([]domain.ErrorEntry)   { h.events = append(h.events, "errors") }
func (h *handler) ReadyToNavigateRecords(string, int) { h.events = append(h.events, "ready") }
func (h *handler) CurrentRecord(int)                  { h.events = append(h.events, "record") }
func (h *handler) EndOfRecords()                      { h.events = append(h.events, "eor") }
func (h *handler) EndOfFile()                         { h.events = append(h.events, "eof") }
func (h *handler) Pages(p []domain.PlotData, _ []domain.Cell, _ []domain.PageLabel) {
	h.events = append(h.events, "pages")
	h.plots += len(p)
}

func TestBatchSurvivesJSON(t *testing.T) {
	begin := engine.NewBeginAccessFile("a.spe")
	begin.NumberOfRecords = 3
	rec := engine.NewAccessRecord()
	rec.Record = 1
	rec.PlotData(domain.PlotData{Page: 0, Curves: []domain.Curve{{X: []float64{1}, Y: []float64{2}}}})
	rec.ErrorMessage("spectra", "low signal", domain.Warning)
	eor := engine.NewAccessRecord()
	end := engine.NewEndAccessFile()

	batch, err := EncodeBatch("s1", 4, []domain.Response{begin, rec, eor, end})
	require.NoError(t, err)
	data, err := json.Marshal(batch)
	require.NoError(t, err)

	var back domain.ResponseBatch
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "s1", back.SessionID)
	assert.Equal(t, uint64(4), back.Seq)

	responses, err := DecodeBatch(back)
	require.NoError(t, err)
	h := &handler{}
	for _, r := range responses {
		r.Process(h)
	}
	assert.Equal(t, []string{"ready", "errors", "record", "pages", "eor", "eof"}, h.events)
	assert.Equal(t, 1, h.plots)
}

func TestDecodeBatch_UnknownKind(t *testing.T) {
	_, err := DecodeBatch(domain.ResponseBatch{Responses: []domain.ResponseEnvelope{{Kind: "progress"}}})
	assert.ErrorIs(t, err, ErrUnknownKind)
}
