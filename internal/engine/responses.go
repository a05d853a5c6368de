// Package engine defines the requests executed by the engine thread and the responses it sends back.
package engine

import "github.com/dontdude/qdoas/internal/domain"

// Payload is the engine output shared by every response variant.
// It implements domain.ResponseSink so the engine writes into it while a request executes.
type Payload struct {
	Errors []domain.ErrorEntry `json:"errors,omitempty"`
	Plots  []domain.PlotData   `json:"plots,omitempty"`
	Cells  []domain.Cell       `json:"cells,omitempty"`
	Labels []domain.PageLabel  `json:"labels,omitempty"`
}

var _ domain.ResponseSink = (*Payload)(nil)

func (p *Payload) PlotData(plot domain.PlotData)    { p.Plots = append(p.Plots, plot) }
func (p *Payload) CellData(cell domain.Cell)        { p.Cells = append(p.Cells, cell) }
func (p *Payload) LabelPage(label domain.PageLabel) { p.Labels = append(p.Labels, label) }

func (p *Payload) ErrorMessage(tag, message string, severity domain.Severity) {
	p.Errors = append(p.Errors, domain.ErrorEntry{Tag: tag, Message: message, Severity: severity})
}

// HasErrors reports whether any message was attached.
func (p *Payload) HasErrors() bool { return len(p.Errors) > 0 }

// report drains the errors into h and reports whether processing must stop.
func (p *Payload) report(h domain.ResponseHandler) (fatal bool) {
	if len(p.Errors) > 0 {
		h.ReportErrors(p.Errors)
	}
	return domain.HasFatal(p.Errors)
}

func (p *Payload) hasPages() bool {
	return len(p.Plots) > 0 || len(p.Cells) > 0 || len(p.Labels) > 0
}

// Message carries only messages and page output, no navigation change.
type Message struct {
	Payload
}

func NewMessage() *Message { return &Message{} }

func (r *Message) Process(h domain.ResponseHandler) {
	if r.report(h) {
		return
	}
	if r.hasPages() {
		h.Pages(r.Plots, r.Cells, r.Labels)
	}
}

// BeginAccessFile is the result of opening a file in any mode.
type BeginAccessFile struct {
	Payload
	File            string `json:"file"`
	NumberOfRecords int    `json:"number_of_records"`
}

func NewBeginAccessFile(file string) *BeginAccessFile { return &BeginAccessFile{File: file} }

func (r *BeginAccessFile) Process(h domain.ResponseHandler) {
	if r.report(h) || r.NumberOfRecords < 0 {
		return
	}
	h.ReadyToNavigateRecords(r.File, r.NumberOfRecords)
	if r.hasPages() {
		h.Pages(r.Plots, r.Cells, r.Labels)
	}
}

// AccessRecord is the result of moving to a record.
// Record 0 means no more matching records; a negative record means the move failed.
type AccessRecord struct {
	Payload
	Record int `json:"record"`
}

func NewAccessRecord() *AccessRecord { return &AccessRecord{} }

func (r *AccessRecord) Process(h domain.ResponseHandler) {
	if r.report(h) {
		return
	}
	switch {
	case r.Record == 0:
		h.EndOfRecords()
	case r.Record > 0:
		h.CurrentRecord(r.Record)
		h.Pages(r.Plots, r.Cells, r.Labels)
	}
}

// EndAccessFile is the result of closing a file.
type EndAccessFile struct {
	Payload
}

func NewEndAccessFile() *EndAccessFile { return &EndAccessFile{} }

func (r *EndAccessFile) Process(h domain.ResponseHandler) {
	if r.report(h) {
		return
	}
	h.EndOfFile()
}
