package controller

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dontdude/qdoas/internal/domain"
	"github.com/dontdude/qdoas/internal/engine"
)

type fakeSubmitter struct {
	reqs []domain.Request
	err  error
}

func (f *fakeSubmitter) Submit(req domain.Request) error {
	if f.err != nil {
		return f.err
	}
	f.reqs = append(f.reqs, req)
	return nil
}

func (f *fakeSubmitter) last() domain.Request {
	if len(f.reqs) == 0 {
		return nil
	}
	return f.reqs[len(f.reqs)-1]
}

type observer struct {
	NopObserver
	modes   []domain.Mode
	records [][2]int
	eors    int
	files   []string
	pages   [][]*Page
	reports []ErrorReport
}

func (o *observer) ModeChanged(m domain.Mode)             { o.modes = append(o.modes, m) }
func (o *observer) RecordChanged(cur, total int)          { o.records = append(o.records, [2]int{cur, total}) }
func (o *observer) EndOfRecords(int)                      { o.eors++ }
func (o *observer) FileChanged(_ int, file string, _ int) { o.files = append(o.files, file) }
func (o *observer) PagesChanged(p []*Page)                { o.pages = append(o.pages, p) }
func (o *observer) ErrorsReported(r ErrorReport)          { o.reports = append(o.reports, r) }

func newTestController(t *testing.T) (*Controller, *fakeSubmitter, *observer) {
	t.Helper()
	sub := &fakeSubmitter{}
	c := New(sub, nil)
	obs := &observer{}
	c.Subscribe(obs)
	return c, sub, obs
}

func twoFileSession() *Session {
	p := &domain.Project{Name: "zenith"}
	return NewSession().Add(p, "a.spe", "b.spe")
}

func begin(file string, n int) *engine.BeginAccessFile {
	r := engine.NewBeginAccessFile(file)
	r.NumberOfRecords = n
	return r
}

func record(n int) *engine.AccessRecord {
	r := engine.NewAccessRecord()
	r.Record = n
	return r
}

func childTypes(t *testing.T, req domain.Request) []string {
	t.Helper()
	c, ok := req.(*engine.Compound)
	require.True(t, ok, "expected a compound request, got %T", req)
	var out []string
	for _, child := range c.Children() {
		switch r := child.(type) {
		case *engine.SetProject:
			out = append(out, "set:"+r.Project().Name)
		case *engine.BeginFile:
			out = append(out, "begin:"+r.File)
		case *engine.NextRecord:
			out = append(out, "next")
		case *engine.EndFile:
			out = append(out, "end")
		default:
			out = append(out, "?")
		}
	}
	return out
}

func TestStartSession_BuildsCompound(t *testing.T) {
	c, sub, obs := newTestController(t)

	require.NoError(t, c.StartSession(domain.ModeBrowse, twoFileSession()))

	require.Len(t, sub.reqs, 1)
	assert.Equal(t, []string{"set:zenith", "begin:a.spe", "next"}, childTypes(t, sub.reqs[0]))
	assert.Equal(t, domain.ModeBrowse, c.Mode())
	assert.Equal(t, []domain.Mode{domain.ModeBrowse}, obs.modes)
	assert.Equal(t, -1, c.FileIndex(), "iterator must not move before the engine answers")
	assert.Equal(t, 2, c.NumberOfFiles())
}

func TestStartSession_Validation(t *testing.T) {
	c, _, _ := newTestController(t)

	assert.ErrorIs(t, c.StartSession(domain.ModeNone, twoFileSession()), ErrInvalidMode)
	assert.ErrorIs(t, c.StartSession(domain.ModeBrowse, NewSession()), ErrEmptySession)
	assert.ErrorIs(t, c.NextRecord(), ErrNoSession)
	assert.ErrorIs(t, c.Stop(), ErrNoSession)
}

func TestBeginAccessFile_SetsRecordCount(t *testing.T) {
	c, _, obs := newTestController(t)
	require.NoError(t, c.StartSession(domain.ModeBrowse, twoFileSession()))

	c.HandleResponses([]domain.Response{begin("a.spe", 5)})

	assert.Equal(t, 5, c.NumberOfRecords())
	assert.Equal(t, 0, c.RecordIndex())
	assert.Equal(t, 0, c.FileIndex())
	assert.Equal(t, "a.spe", c.File())
	assert.Equal(t, []string{"a.spe"}, obs.files)
}

func TestAccessRecord_EndOfRecords(t *testing.T) {
	c, _, obs := newTestController(t)
	require.NoError(t, c.StartSession(domain.ModeBrowse, twoFileSession()))
	c.HandleResponses([]domain.Response{begin("a.spe", 5), record(1)})
	obs.records = nil

	c.HandleResponses([]domain.Response{record(0)})

	assert.Equal(t, 6, c.RecordIndex())
	assert.True(t, c.AtEndOfRecords())
	assert.Equal(t, 1, obs.eors)
	assert.Empty(t, obs.records, "end of records is not a numeric record update")
}

func TestFatalResponse_LeavesStateUntouched(t *testing.T) {
	c, _, obs := newTestController(t)
	require.NoError(t, c.StartSession(domain.ModeBrowse, twoFileSession()))
	c.HandleResponses([]domain.Response{begin("a.spe", 5), record(2)})
	obs.records, obs.pages = nil, nil

	bad := record(3)
	bad.ErrorMessage("engine", "read error", domain.Fatal)
	bad.CellData(domain.Cell{Page: 0, Row: 0, Col: 0, Value: 1.0})
	c.HandleResponses([]domain.Response{bad})

	assert.Equal(t, 2, c.RecordIndex())
	assert.Empty(t, obs.records)
	assert.Empty(t, obs.pages)
	require.Len(t, obs.reports, 1)
	assert.Equal(t, domain.Fatal, obs.reports[0].Level)
	assert.Equal(t, "engine: read error", obs.reports[0].Messages[domain.Fatal])
}

func TestFatalBegin_DoesNotAdvanceIterator(t *testing.T) {
	c, sub, _ := newTestController(t)
	require.NoError(t, c.StartSession(domain.ModeBrowse, twoFileSession()))
	c.HandleResponses([]domain.Response{begin("a.spe", 5)})

	require.NoError(t, c.NextFile())
	assert.Equal(t, []string{"end", "begin:b.spe", "next"}, childTypes(t, sub.last()),
		"same project must not be set again")
	assert.Equal(t, 0, c.FileIndex())

	failed := begin("b.spe", -1)
	failed.ErrorMessage("BeginBrowseFile", "cannot open", domain.Fatal)
	c.HandleResponses([]domain.Response{failed})

	assert.Equal(t, 0, c.FileIndex())
	assert.Equal(t, 5, c.NumberOfRecords())
}

func TestNextFile_SetsProjectWhenItDiffers(t *testing.T) {
	c, sub, _ := newTestController(t)
	s := NewSession().
		Add(&domain.Project{Name: "zenith"}, "a.spe").
		Add(&domain.Project{Name: "offaxis"}, "b.spe")
	require.NoError(t, c.StartSession(domain.ModeAnalyse, s))
	c.HandleResponses([]domain.Response{begin("a.spe", 1)})

	require.NoError(t, c.NextFile())
	assert.Equal(t, []string{"end", "set:offaxis", "begin:b.spe", "next"}, childTypes(t, sub.last()))

	c.HandleResponses([]domain.Response{begin("b.spe", 3)})
	assert.Equal(t, 1, c.FileIndex())
	assert.ErrorIs(t, c.NextFile(), ErrNoMoreFiles)

	require.NoError(t, c.PreviousFile())
	assert.Equal(t, []string{"end", "set:zenith", "begin:a.spe", "next"}, childTypes(t, sub.last()))
}

func TestGotoFile_Range(t *testing.T) {
	c, _, _ := newTestController(t)
	require.NoError(t, c.StartSession(domain.ModeBrowse, twoFileSession()))

	assert.ErrorIs(t, c.GotoFile(2), ErrFileIndex)
	assert.ErrorIs(t, c.GotoFile(-1), ErrFileIndex)
	assert.ErrorIs(t, c.PreviousFile(), ErrNoMoreFiles)
}

func TestGotoRecord(t *testing.T) {
	c, sub, _ := newTestController(t)
	require.NoError(t, c.StartSession(domain.ModeCalibrate, twoFileSession()))
	c.HandleResponses([]domain.Response{begin("a.spe", 4)})

	assert.ErrorIs(t, c.GotoRecord(0), domain.ErrRecordOutOfRange)
	assert.ErrorIs(t, c.GotoRecord(5), domain.ErrRecordOutOfRange)
	require.NoError(t, c.GotoRecord(3))

	req, ok := sub.last().(*engine.SpecificRecord)
	require.True(t, ok)
	assert.Equal(t, 3, req.Record)
	assert.Equal(t, domain.ModeCalibrate, req.Mode)
}

func TestStep(t *testing.T) {
	c, sub, _ := newTestController(t)
	require.NoError(t, c.StartSession(domain.ModeBrowse, twoFileSession()))
	c.HandleResponses([]domain.Response{begin("a.spe", 1), record(1)})

	require.NoError(t, c.Step())
	assert.IsType(t, &engine.NextRecord{}, sub.last())

	c.HandleResponses([]domain.Response{record(0)})
	require.NoError(t, c.Step())
	assert.Equal(t, []string{"end", "begin:b.spe", "next"}, childTypes(t, sub.last()))
}

func TestRun_WalksWholeSession(t *testing.T) {
	c, sub, obs := newTestController(t)
	require.NoError(t, c.StartSession(domain.ModeBrowse, twoFileSession()))
	c.HandleResponses([]domain.Response{begin("a.spe", 1), record(1)})

	require.NoError(t, c.Run())
	assert.True(t, c.Running())

	c.HandleResponses([]domain.Response{record(0)})
	assert.Equal(t, []string{"end", "begin:b.spe", "next"}, childTypes(t, sub.last()))

	c.HandleResponses([]domain.Response{engine.NewEndAccessFile(), begin("b.spe", 1), record(1)})
	assert.IsType(t, &engine.NextRecord{}, sub.last(), "running continues after each record")

	c.HandleResponses([]domain.Response{record(0)})
	assert.IsType(t, &engine.EndFile{}, sub.last())
	assert.False(t, c.Running())
	assert.Equal(t, domain.ModeBrowse, c.Mode())

	c.HandleResponses([]domain.Response{engine.NewEndAccessFile()})
	assert.Equal(t, domain.ModeNone, c.Mode())
	assert.Equal(t, []domain.Mode{domain.ModeBrowse, domain.ModeNone}, obs.modes)
}

func TestRunSession_SingleRequestChain(t *testing.T) {
	c, sub, _ := newTestController(t)
	require.NoError(t, c.RunSession(domain.ModeAnalyse, twoFileSession()))
	require.Len(t, sub.reqs, 1)
	assert.True(t, c.Running())

	c.HandleResponses([]domain.Response{begin("a.spe", 2), record(1)})
	require.Len(t, sub.reqs, 2)
	assert.Equal(t, &engine.NextRecord{Mode: domain.ModeAnalyse}, sub.last())

	c.HandleResponses([]domain.Response{record(2)})
	assert.Len(t, sub.reqs, 3)
}

func TestRun_KeepsOneRequestChain(t *testing.T) {
	c, sub, obs := newTestController(t)
	require.NoError(t, c.StartSession(domain.ModeBrowse, twoFileSession()))
	c.HandleResponses([]domain.Response{begin("a.spe", 2), record(1)})
	opened := len(sub.reqs)

	require.NoError(t, c.Run())
	require.NoError(t, c.Run())
	assert.Len(t, sub.reqs, opened+1, "a second Run must not step again")

	c.HandleResponses([]domain.Response{record(2)})
	c.HandleResponses([]domain.Response{record(0)})
	assert.Len(t, sub.reqs, opened+3)
	assert.Equal(t, []string{"end", "begin:b.spe", "next"}, childTypes(t, sub.last()))

	c.HandleResponses([]domain.Response{engine.NewEndAccessFile(), begin("b.spe", 1), record(1)})
	c.HandleResponses([]domain.Response{record(0)})
	c.HandleResponses([]domain.Response{engine.NewEndAccessFile()})

	assert.Equal(t, domain.ModeNone, c.Mode())
	assert.Equal(t, []string{"a.spe", "b.spe"}, obs.files)
}

func TestRun_WhileRequestInFlight(t *testing.T) {
	t.Run("opening file", func(t *testing.T) {
		c, sub, _ := newTestController(t)
		require.NoError(t, c.StartSession(domain.ModeBrowse, twoFileSession()))
		require.NoError(t, c.Run())
		assert.True(t, c.Running())
		require.Len(t, sub.reqs, 1, "the opening compound already asks for a record")

		c.HandleResponses([]domain.Response{begin("a.spe", 3), record(1)})
		require.Len(t, sub.reqs, 2)
		assert.IsType(t, &engine.NextRecord{}, sub.last())
	})

	t.Run("manual records", func(t *testing.T) {
		c, sub, _ := newTestController(t)
		require.NoError(t, c.StartSession(domain.ModeBrowse, twoFileSession()))
		c.HandleResponses([]domain.Response{begin("a.spe", 5), record(1)})
		require.NoError(t, c.NextRecord())
		require.NoError(t, c.NextRecord())
		require.NoError(t, c.Run())
		submitted := len(sub.reqs)

		// Only the last answer continues the chain.
		c.HandleResponses([]domain.Response{record(2)})
		assert.Len(t, sub.reqs, submitted)
		c.HandleResponses([]domain.Response{record(3)})
		assert.Len(t, sub.reqs, submitted+1)
	})

	t.Run("after pause", func(t *testing.T) {
		c, sub, _ := newTestController(t)
		require.NoError(t, c.StartSession(domain.ModeBrowse, twoFileSession()))
		c.HandleResponses([]domain.Response{begin("a.spe", 5), record(1)})
		require.NoError(t, c.Run())
		c.Pause()
		require.NoError(t, c.Run())
		submitted := len(sub.reqs)

		c.HandleResponses([]domain.Response{record(2)})
		assert.Len(t, sub.reqs, submitted+1)
	})

	t.Run("fatal ends the request", func(t *testing.T) {
		c, sub, _ := newTestController(t)
		require.NoError(t, c.StartSession(domain.ModeBrowse, twoFileSession()))
		failed := begin("a.spe", -1)
		failed.ErrorMessage("BeginBrowseFile", "no such file", domain.Fatal)
		c.HandleResponses([]domain.Response{failed})

		require.NoError(t, c.GotoFile(1))
		c.HandleResponses([]domain.Response{engine.NewEndAccessFile(), begin("b.spe", 2), record(1)})
		require.NoError(t, c.Run())
		assert.IsType(t, &engine.NextRecord{}, sub.last(), "nothing left in flight, Run steps")
	})
}

func TestRun_PausesOnFatal(t *testing.T) {
	c, sub, _ := newTestController(t)
	require.NoError(t, c.StartSession(domain.ModeBrowse, twoFileSession()))
	c.HandleResponses([]domain.Response{begin("a.spe", 3), record(1)})
	require.NoError(t, c.Run())
	submitted := len(sub.reqs)

	bad := record(-1)
	bad.ErrorMessage("BrowseNextRecord", "corrupt record", domain.Fatal)
	c.HandleResponses([]domain.Response{bad})

	assert.False(t, c.Running())
	assert.Len(t, sub.reqs, submitted)
}

func TestStop_NextResponseEndsSession(t *testing.T) {
	c, sub, obs := newTestController(t)
	require.NoError(t, c.StartSession(domain.ModeBrowse, twoFileSession()))
	c.HandleResponses([]domain.Response{begin("a.spe", 3), record(1)})
	require.NoError(t, c.Run())

	require.NoError(t, c.Stop())
	assert.IsType(t, &engine.EndFile{}, sub.last())
	assert.True(t, c.StopRequested())
	assert.Equal(t, domain.ModeBrowse, c.Mode(), "stop is cooperative")
	submitted := len(sub.reqs)

	// The record already in flight is the next response: it ends the session before the
	// file closes, and the late EndAccessFile is handled against the idle state.
	c.HandleResponses([]domain.Response{record(2)})
	assert.Equal(t, domain.ModeNone, c.Mode())
	assert.False(t, c.StopRequested())
	c.HandleResponses([]domain.Response{engine.NewEndAccessFile()})
	assert.Equal(t, domain.ModeNone, c.Mode())
	assert.Len(t, sub.reqs, submitted, "no follow-up after stop")
	assert.Equal(t, domain.ModeNone, obs.modes[len(obs.modes)-1])
}

func TestHandleResponses_OneReportPerBatch(t *testing.T) {
	c, _, obs := newTestController(t)
	require.NoError(t, c.StartSession(domain.ModeBrowse, twoFileSession()))

	first := begin("a.spe", 2)
	first.ErrorMessage("open", "old format", domain.Warning)
	second := record(1)
	second.ErrorMessage("read", "saturated", domain.Warning)
	second.ErrorMessage("read", "dark current", domain.Information)
	c.HandleResponses([]domain.Response{first, second})

	require.Len(t, obs.reports, 1)
	r := obs.reports[0]
	assert.Equal(t, domain.Warning, r.Level)
	assert.Equal(t, "open: old format\nread: saturated", r.Messages[domain.Warning])
	assert.Equal(t, "read: dark current", r.Messages[domain.Information])
	assert.Equal(t, "WARNING\nopen: old format\nread: saturated\nINFORMATION\nread: dark current", r.String())

	c.HandleResponses([]domain.Response{record(2)})
	assert.Len(t, obs.reports, 1, "clean batches report nothing")
}

func TestPagesPublishedOncePerResponse(t *testing.T) {
	c, _, obs := newTestController(t)
	require.NoError(t, c.StartSession(domain.ModeBrowse, twoFileSession()))
	c.HandleResponses([]domain.Response{begin("a.spe", 2)})

	r := record(1)
	for row := range 10 {
		r.CellData(domain.Cell{Page: 1, Row: row, Col: 0, Value: row})
		r.CellData(domain.Cell{Page: 0, Row: row, Col: 1, Value: "x"})
	}
	r.LabelPage(domain.PageLabel{Page: 1, Title: "NO2"})
	c.HandleResponses([]domain.Response{r})

	require.Len(t, obs.pages, 1)
	require.Len(t, obs.pages[0], 2)
	assert.Equal(t, 0, obs.pages[0][0].Number)
	assert.Equal(t, "NO2", obs.pages[0][1].Title)
	assert.Len(t, obs.pages[0][1].Cells, 10)
}

func TestSubmitFailureIsReturned(t *testing.T) {
	c, sub, _ := newTestController(t)
	sub.err = errors.New("stopped")

	err := c.StartSession(domain.ModeBrowse, twoFileSession())

	assert.ErrorContains(t, err, "stopped")
}

func TestUnsubscribe(t *testing.T) {
	c, _, obs := newTestController(t)
	c.Subscribe(obs)
	c.Unsubscribe(obs)

	require.NoError(t, c.StartSession(domain.ModeBrowse, twoFileSession()))

	assert.Empty(t, obs.modes)
}
