package domain

import "fmt"

// Mode identifies which kind of spectra access the engine is performing.
type Mode int

const (
	ModeNone Mode = iota
	ModeBrowse
	ModeAnalyse
	ModeCalibrate
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "idle"
	case ModeBrowse:
		return "browse"
	case ModeAnalyse:
		return "analyse"
	case ModeCalibrate:
		return "calibrate"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts the textual form produced by String back into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "browse":
		return ModeBrowse, nil
	case "analyse", "analyze":
		return ModeAnalyse, nil
	case "calibrate":
		return ModeCalibrate, nil
	case "idle", "":
		return ModeNone, nil
	}
	return ModeNone, fmt.Errorf("unknown mode %q", s)
}

// Curve is one named series of a plot.
type Curve struct {
	Name string    `json:"name"`
	X    []float64 `json:"x"`
	Y    []float64 `json:"y"`
}

// PlotData is a single plot destined for a page.
type PlotData struct {
	Page   int     `json:"page"`
	Title  string  `json:"title"`
	XLabel string  `json:"x_label"`
	YLabel string  `json:"y_label"`
	Curves []Curve `json:"curves"`
}

// Cell is one table cell destined for a page.
type Cell struct {
	Page  int `json:"page"`
	Row   int `json:"row"`
	Col   int `json:"col"`
	Value any `json:"value"`
}

// PageLabel carries the title and tag of a page.
type PageLabel struct {
	Page  int    `json:"page"`
	Title string `json:"title"`
	Tag   string `json:"tag"`
}

// ResponseSink receives engine output while a request executes.
// Response values implement it so the engine writes straight into the response being built.
type ResponseSink interface {
	PlotData(plot PlotData)
	CellData(cell Cell)
	LabelPage(label PageLabel)
	ErrorMessage(tag, message string, severity Severity)
}

// Engine is the spectral-retrieval library driven by the engine thread.
type Engine interface {
	// CreateContext allocates a new engine context. The caller owns it and must Destroy it.
	CreateContext() (EngineContext, error)
}

// EngineContext is the opaque, exclusively owned handle of one engine session.
// It is never shared: only the goroutine that created it may call its methods.
//
// Iteration calls return the record number reached, 0 when there are no more records,
// and -1 together with a non-nil error on failure.
type EngineContext interface {
	SetProject(project *Project, sink ResponseSink) error
	BeginSpectra(mode Mode, file string, sink ResponseSink) (int, error)
	NextMatchingSpectrum(mode Mode, sink ResponseSink) (int, error)
	GotoSpectrum(mode Mode, record int, sink ResponseSink) (int, error)
	EndSpectra(mode Mode, sink ResponseSink) error
	Destroy() error
}
