package spectra

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/dontdude/qdoas/internal/domain"
)

// Page numbers produced by the engine. Analysis windows use WindowPage+i.
const (
	SpectraPage = 0
	WindowPage  = 1
)

const tag = "spectra"

var errDestroyed = errors.New("engine context destroyed")

// Engine is a domain.Engine over plain-text spectra files.
type Engine struct {
	load   func(path string) ([]Record, error)
	logger *slog.Logger
}

var _ domain.Engine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithLoader replaces the file loader, mainly for tests.
func WithLoader(load func(path string) ([]Record, error)) Option {
	return func(e *Engine) { e.load = load }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{load: ReadFile, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) CreateContext() (domain.EngineContext, error) {
	e.logger.Debug("Engine context created")
	return &engineContext{engine: e}, nil
}

// engineContext holds the state of one engine session. It is used by a single goroutine.
type engineContext struct {
	engine    *Engine
	project   *domain.Project
	mode      domain.Mode
	file      string
	records   []Record
	cursor    int
	destroyed bool
}

func (c *engineContext) SetProject(p *domain.Project, sink domain.ResponseSink) error {
	if c.destroyed {
		return errDestroyed
	}
	if p == nil {
		return domain.ErrNoProject
	}
	for _, w := range p.Windows {
		if w.Enabled && w.Min >= w.Max {
			return fmt.Errorf("analysis window %q: min %g must be below max %g", w.Name, w.Min, w.Max)
		}
	}
	if c.mode != domain.ModeNone {
		sink.ErrorMessage(tag, "project changed while "+c.file+" is open", domain.Warning)
	}
	c.project = p.Clone()
	return nil
}

func (c *engineContext) BeginSpectra(mode domain.Mode, file string, sink domain.ResponseSink) (int, error) {
	if c.destroyed {
		return -1, errDestroyed
	}
	if c.project == nil {
		return -1, domain.ErrNoProject
	}
	if mode == domain.ModeNone {
		return -1, fmt.Errorf("cannot open %s without an access mode", file)
	}
	if c.mode != domain.ModeNone {
		sink.ErrorMessage(tag, "closing "+c.file+" before opening "+file, domain.Warning)
		c.reset()
	}

	records, err := c.engine.load(file)
	if err != nil {
		return -1, err
	}
	c.mode, c.file, c.records, c.cursor = mode, file, records, 0
	if len(records) == 0 {
		sink.ErrorMessage(tag, file+" holds no spectra", domain.Warning)
	}
	c.engine.logger.Debug("Spectra opened", "file", file, "mode", mode, "records", len(records))
	return len(records), nil
}

func (c *engineContext) NextMatchingSpectrum(mode domain.Mode, sink domain.ResponseSink) (int, error) {
	if err := c.check(mode); err != nil {
		return -1, err
	}
	for c.cursor < len(c.records) {
		rec := &c.records[c.cursor]
		c.cursor++
		if matches(rec, c.project.Selection) {
			c.emit(rec, sink)
			return rec.Number, nil
		}
	}
	return 0, nil
}

func (c *engineContext) GotoSpectrum(mode domain.Mode, record int, sink domain.ResponseSink) (int, error) {
	if err := c.check(mode); err != nil {
		return -1, err
	}
	if record < 1 || record > len(c.records) {
		return -1, fmt.Errorf("%w: %d not in 1..%d", domain.ErrRecordOutOfRange, record, len(c.records))
	}
	rec := &c.records[record-1]
	c.cursor = record
	c.emit(rec, sink)
	return record, nil
}

func (c *engineContext) EndSpectra(mode domain.Mode, sink domain.ResponseSink) error {
	if c.destroyed {
		return errDestroyed
	}
	if c.mode == domain.ModeNone {
		sink.ErrorMessage(tag, "no file open", domain.Information)
		return nil
	}
	if c.mode != mode {
		sink.ErrorMessage(tag, fmt.Sprintf("closing %s opened for %s", c.file, c.mode), domain.Warning)
	}
	c.reset()
	return nil
}

func (c *engineContext) Destroy() error {
	if c.destroyed {
		return errDestroyed
	}
	c.reset()
	c.project = nil
	c.destroyed = true
	c.engine.logger.Debug("Engine context destroyed")
	return nil
}

func (c *engineContext) reset() {
	c.mode, c.file, c.records, c.cursor = domain.ModeNone, "", nil, 0
}

func (c *engineContext) check(mode domain.Mode) error {
	switch {
	case c.destroyed:
		return errDestroyed
	case c.mode == domain.ModeNone:
		return domain.ErrNoFile
	case c.mode != mode:
		return fmt.Errorf("%w: %s is open for %s", domain.ErrModeMismatch, c.file, c.mode)
	}
	return nil
}

func (c *engineContext) emit(rec *Record, sink domain.ResponseSink) {
	switch c.mode {
	case domain.ModeBrowse:
		browse(rec, c.project, sink)
	case domain.ModeAnalyse:
		analyse(rec, c.project, sink)
	case domain.ModeCalibrate:
		calibrate(rec, c.project, sink)
	}
}

func matches(rec *Record, sel domain.Selection) bool {
	if sel.RecordMin > 0 && rec.Number < sel.RecordMin {
		return false
	}
	if sel.RecordMax > 0 && rec.Number > sel.RecordMax {
		return false
	}
	if sel.FilterSZA && rec.HasSZA && (rec.SZA < sel.SZAMin || rec.SZA > sel.SZAMax) {
		return false
	}
	return true
}

func browse(rec *Record, p *domain.Project, sink domain.ResponseSink) {
	sink.LabelPage(domain.PageLabel{Page: SpectraPage, Title: "Spectra", Tag: "spectra"})
	if p.Display.Spectra {
		sink.PlotData(spectrumPlot(SpectraPage, rec, rec.Lambda, rec.Signal))
	}
	if p.Display.Data {
		recordInfo(rec, sink)
	}
}

func analyse(rec *Record, p *domain.Project, sink domain.ResponseSink) {
	if p.Display.Spectra {
		sink.LabelPage(domain.PageLabel{Page: SpectraPage, Title: "Spectra", Tag: "spectra"})
		sink.PlotData(spectrumPlot(SpectraPage, rec, rec.Lambda, rec.Signal))
	}
	enabled := 0
	for i, w := range p.Windows {
		if !w.Enabled {
			continue
		}
		enabled++
		page := WindowPage + i
		x, y := window(rec.Lambda, rec.Signal, w.Min, w.Max)
		if len(x) == 0 {
			sink.ErrorMessage(tag, fmt.Sprintf("record %d: window %s has no points in [%g, %g]",
				rec.Number, w.Name, w.Min, w.Max), domain.Warning)
			continue
		}
		st := summarize(x, y)
		sink.LabelPage(domain.PageLabel{Page: page, Title: w.Name, Tag: "window"})
		sink.PlotData(spectrumPlot(page, rec, x, y))
		rows := []struct {
			name  string
			value any
		}{
			{"Record", rec.Number},
			{"Points", len(x)},
			{"Mean", st.mean},
			{"Min", st.min},
			{"Max", st.max},
			{"Integral", st.integral},
		}
		for r, row := range rows {
			sink.CellData(domain.Cell{Page: page, Row: r, Col: 0, Value: row.name})
			sink.CellData(domain.Cell{Page: page, Row: r, Col: 1, Value: row.value})
		}
	}
	if enabled == 0 {
		sink.ErrorMessage(tag, "project has no enabled analysis window", domain.Warning)
	}
}

func calibrate(rec *Record, p *domain.Project, sink domain.ResponseSink) {
	x, y := rec.Lambda, rec.Signal
	if p.Calibration.Min != 0 || p.Calibration.Max != 0 {
		x, y = window(x, y, p.Calibration.Min, p.Calibration.Max)
	}
	if len(x) < 2 {
		sink.ErrorMessage(tag, fmt.Sprintf("record %d: not enough points to calibrate", rec.Number), domain.Warning)
		return
	}

	steps := make([]float64, len(x)-1)
	for i := range steps {
		steps[i] = x[i+1] - x[i]
	}
	st := summarize(x[1:], steps)

	sink.LabelPage(domain.PageLabel{Page: SpectraPage, Title: "Calibration", Tag: "calibration"})
	if p.Display.Calibrated {
		sink.PlotData(spectrumPlot(SpectraPage, rec, x, y))
	}
	rows := []struct {
		name  string
		value any
	}{
		{"Record", rec.Number},
		{"First", x[0]},
		{"Last", x[len(x)-1]},
		{"Mean step", st.mean},
		{"Min step", st.min},
		{"Max step", st.max},
		{"Drift", steps[len(steps)-1] - steps[0]},
	}
	for r, row := range rows {
		sink.CellData(domain.Cell{Page: SpectraPage, Row: r, Col: 0, Value: row.name})
		sink.CellData(domain.Cell{Page: SpectraPage, Row: r, Col: 1, Value: row.value})
	}
}

func recordInfo(rec *Record, sink domain.ResponseSink) {
	rows := [][2]any{
		{"Record", rec.Number},
		{"Name", rec.Name},
		{"Points", len(rec.Lambda)},
	}
	if rec.HasSZA {
		rows = append(rows, [2]any{"SZA", rec.SZA})
	}
	if !rec.Time.IsZero() {
		rows = append(rows, [2]any{"Time", rec.Time.UTC().Format("2006-01-02 15:04:05")})
	}
	for r, row := range rows {
		sink.CellData(domain.Cell{Page: SpectraPage, Row: r, Col: 0, Value: row[0]})
		sink.CellData(domain.Cell{Page: SpectraPage, Row: r, Col: 1, Value: row[1]})
	}
}

func spectrumPlot(page int, rec *Record, x, y []float64) domain.PlotData {
	name := rec.Name
	if name == "" {
		name = fmt.Sprintf("record %d", rec.Number)
	}
	return domain.PlotData{
		Page:   page,
		Title:  name,
		XLabel: "Wavelength (nm)",
		YLabel: "Intensity",
		Curves: []domain.Curve{{
			Name: name,
			X:    append([]float64(nil), x...),
			Y:    append([]float64(nil), y...),
		}},
	}
}

// window returns the points whose wavelength lies in [lo, hi].
func window(x, y []float64, lo, hi float64) ([]float64, []float64) {
	var wx, wy []float64
	for i := range x {
		if x[i] >= lo && x[i] <= hi {
			wx = append(wx, x[i])
			wy = append(wy, y[i])
		}
	}
	return wx, wy
}

type stats struct {
	mean, min, max, integral float64
}

// summarize computes the statistics of y over x; x is increasing and len(x) == len(y) > 0.
func summarize(x, y []float64) stats {
	st := stats{min: math.Inf(1), max: math.Inf(-1)}
	sum := 0.0
	for i, v := range y {
		sum += v
		st.min = math.Min(st.min, v)
		st.max = math.Max(st.max, v)
		if i > 0 {
			st.integral += (x[i] - x[i-1]) * (v + y[i-1]) / 2
		}
	}
	st.mean = sum / float64(len(y))
	return st
}
