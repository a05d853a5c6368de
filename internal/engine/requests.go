package engine

import (
	"context"
	"strings"

	"github.com/dontdude/qdoas/internal/domain"
)

// SetProject hands a project snapshot to the engine.
// It only responds when the engine attached messages.
type SetProject struct {
	project *domain.Project
}

// NewSetProject snapshots p. Later changes to p do not affect the request.
func NewSetProject(p *domain.Project) *SetProject {
	return &SetProject{project: p.Clone()}
}

// Project returns a copy of the snapshot.
func (r *SetProject) Project() *domain.Project { return r.project.Clone() }

func (r *SetProject) Process(_ context.Context, x domain.Executor) bool {
	resp := NewMessage()
	if err := x.EngineContext().SetProject(r.project, resp); err != nil {
		resp.ErrorMessage("SetProject", err.Error(), domain.Fatal)
		x.Respond(resp)
		return false
	}
	if resp.HasErrors() {
		x.Respond(resp)
	}
	return true
}

// BeginFile opens File in Mode.
type BeginFile struct {
	Mode domain.Mode
	File string
}

func NewBeginBrowseFile(file string) *BeginFile    { return &BeginFile{Mode: domain.ModeBrowse, File: file} }
func NewBeginAnalyseFile(file string) *BeginFile   { return &BeginFile{Mode: domain.ModeAnalyse, File: file} }
func NewBeginCalibrateFile(file string) *BeginFile { return &BeginFile{Mode: domain.ModeCalibrate, File: file} }

func (r *BeginFile) Process(_ context.Context, x domain.Executor) bool {
	resp := NewBeginAccessFile(r.File)
	n, err := x.EngineContext().BeginSpectra(r.Mode, r.File, resp)
	if err != nil {
		n = -1
		resp.ErrorMessage("Begin"+modeTag(r.Mode)+"File", err.Error(), domain.Fatal)
	}
	resp.NumberOfRecords = n
	x.Respond(resp)
	return err == nil
}

// NextRecord moves to the next record matching the project selection.
type NextRecord struct {
	Mode domain.Mode
}

func NewBrowseNextRecord() *NextRecord    { return &NextRecord{Mode: domain.ModeBrowse} }
func NewAnalyseNextRecord() *NextRecord   { return &NextRecord{Mode: domain.ModeAnalyse} }
func NewCalibrateNextRecord() *NextRecord { return &NextRecord{Mode: domain.ModeCalibrate} }

func (r *NextRecord) Process(_ context.Context, x domain.Executor) bool {
	resp := NewAccessRecord()
	n, err := x.EngineContext().NextMatchingSpectrum(r.Mode, resp)
	if err != nil {
		n = -1
		resp.ErrorMessage(modeTag(r.Mode)+"NextRecord", err.Error(), domain.Fatal)
	}
	resp.Record = n
	x.Respond(resp)
	return err == nil
}

// SpecificRecord moves to Record, regardless of the selection filter.
type SpecificRecord struct {
	Mode   domain.Mode
	Record int
}

func NewBrowseSpecificRecord(record int) *SpecificRecord {
	return &SpecificRecord{Mode: domain.ModeBrowse, Record: record}
}

func NewAnalyseSpecificRecord(record int) *SpecificRecord {
	return &SpecificRecord{Mode: domain.ModeAnalyse, Record: record}
}

func NewCalibrateSpecificRecord(record int) *SpecificRecord {
	return &SpecificRecord{Mode: domain.ModeCalibrate, Record: record}
}

func (r *SpecificRecord) Process(_ context.Context, x domain.Executor) bool {
	resp := NewAccessRecord()
	n, err := x.EngineContext().GotoSpectrum(r.Mode, r.Record, resp)
	if err != nil {
		n = -1
		resp.ErrorMessage(modeTag(r.Mode)+"SpecificRecord", err.Error(), domain.Fatal)
	}
	resp.Record = n
	x.Respond(resp)
	return err == nil
}

// EndFile closes the file opened in Mode.
type EndFile struct {
	Mode domain.Mode
}

func NewEndBrowseFile() *EndFile    { return &EndFile{Mode: domain.ModeBrowse} }
func NewEndAnalyseFile() *EndFile   { return &EndFile{Mode: domain.ModeAnalyse} }
func NewEndCalibrateFile() *EndFile { return &EndFile{Mode: domain.ModeCalibrate} }

func (r *EndFile) Process(_ context.Context, x domain.Executor) bool {
	resp := NewEndAccessFile()
	err := x.EngineContext().EndSpectra(r.Mode, resp)
	if err != nil {
		resp.ErrorMessage("End"+modeTag(r.Mode)+"File", err.Error(), domain.Fatal)
	}
	x.Respond(resp)
	return err == nil
}

// BatchAnalysis runs the command-line engine in a container and reports its output as messages.
type BatchAnalysis struct {
	spec domain.RunSpec
}

func NewBatchAnalysis(spec domain.RunSpec) *BatchAnalysis {
	spec.Cmd = append([]string(nil), spec.Cmd...)
	return &BatchAnalysis{spec: spec}
}

// Spec returns a copy of the run specification.
func (r *BatchAnalysis) Spec() domain.RunSpec {
	s := r.spec
	s.Cmd = append([]string(nil), r.spec.Cmd...)
	return s
}

func (r *BatchAnalysis) Process(ctx context.Context, x domain.Executor) bool {
	resp := NewMessage()
	defer x.Respond(resp)

	runner := x.Runner()
	if runner == nil {
		resp.ErrorMessage("BatchAnalysis", "no container runner configured", domain.Fatal)
		return false
	}
	out, err := runner.Run(ctx, r.spec)
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			resp.ErrorMessage("BatchAnalysis", line, domain.Information)
		}
	}
	if err != nil {
		resp.ErrorMessage("BatchAnalysis", err.Error(), domain.Fatal)
		return false
	}
	return true
}

func modeTag(m domain.Mode) string {
	switch m {
	case domain.ModeAnalyse:
		return "Analyse"
	case domain.ModeCalibrate:
		return "Calibrate"
	default:
		return "Browse"
	}
}
