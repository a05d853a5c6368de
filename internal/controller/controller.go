// Package controller turns engine response batches into session and navigation state,
// and turns navigation commands into engine requests.
//
// A Controller is not safe for concurrent use: every method, including HandleResponses,
// must run on the host's event goroutine.
package controller

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dontdude/qdoas/internal/domain"
	"github.com/dontdude/qdoas/internal/engine"
)

var (
	ErrNoSession    = errors.New("no active session")
	ErrEmptySession = errors.New("session has no files")
	ErrInvalidMode  = errors.New("invalid access mode")
	ErrNoMoreFiles  = errors.New("no more files in session")
	ErrFileIndex    = errors.New("file index out of range")
)

// Submitter queues requests for the engine thread without blocking.
type Submitter interface {
	Submit(req domain.Request) error
}

// Observer is notified of host-visible state changes.
type Observer interface {
	ModeChanged(mode domain.Mode)
	SessionChanged(numberOfFiles int)
	FileChanged(index int, file string, numberOfRecords int)
	RecordChanged(current, total int)
	EndOfRecords(total int)
	PagesChanged(pages []*Page)
	ErrorsReported(report ErrorReport)
}

// NopObserver ignores every notification. Embed it to implement only some of Observer.
type NopObserver struct{}

func (NopObserver) ModeChanged(domain.Mode)      {}
func (NopObserver) SessionChanged(int)           {}
func (NopObserver) FileChanged(int, string, int) {}
func (NopObserver) RecordChanged(int, int)       {}
func (NopObserver) EndOfRecords(int)             {}
func (NopObserver) PagesChanged([]*Page)         {}
func (NopObserver) ErrorsReported(ErrorReport)   {}

// Controller owns the navigation state of one session.
type Controller struct {
	submit    Submitter
	logger    *slog.Logger
	observers []Observer

	mode          domain.Mode
	stopRequested bool
	running       bool
	finishing     bool

	session *Session
	// fileIndex is the committed position of the file iterator, -1 before the first file opened.
	fileIndex int
	// pendingIndex is the file a begin request was issued for.
	pendingIndex int
	// project is the last project handed to the engine.
	project *domain.Project

	currentRecord   int
	numberOfRecords int
	// inFlight counts submitted requests that end in a record response: record requests and
	// the compounds that open a file.
	inFlight int

	// Collected while handling a batch.
	batchErrors []domain.ErrorEntry
	followUps   []followUp
}

type followUp struct {
	req    domain.Request
	record bool
}

var _ domain.ResponseHandler = (*Controller)(nil)

func New(submit Submitter, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{submit: submit, logger: logger, fileIndex: -1}
}

// Subscribe registers o. Subscribing the same observer twice has no effect.
func (c *Controller) Subscribe(o Observer) {
	for _, x := range c.observers {
		if x == o {
			return
		}
	}
	c.observers = append(c.observers, o)
}

func (c *Controller) Unsubscribe(o Observer) {
	for i, x := range c.observers {
		if x == o {
			c.observers = append(c.observers[:i], c.observers[i+1:]...)
			return
		}
	}
}

func (c *Controller) Mode() domain.Mode    { return c.mode }
func (c *Controller) Running() bool        { return c.running }
func (c *Controller) StopRequested() bool  { return c.stopRequested }
func (c *Controller) RecordIndex() int     { return c.currentRecord }
func (c *Controller) NumberOfRecords() int { return c.numberOfRecords }
func (c *Controller) NumberOfFiles() int   { return c.session.Len() }
func (c *Controller) FileIndex() int       { return c.fileIndex }

// File returns the path of the committed file, or "" before the first file opened.
func (c *Controller) File() string {
	if c.fileIndex < 0 || c.fileIndex >= c.session.Len() {
		return ""
	}
	return c.session.path(c.fileIndex)
}

// AtEndOfRecords reports whether the engine ran out of records in the current file.
func (c *Controller) AtEndOfRecords() bool {
	return c.fileIndex >= 0 && c.currentRecord > c.numberOfRecords
}

// HandleResponses processes one drained batch in receipt order, then publishes the batch's
// messages as a single report and submits any follow-up requests.
func (c *Controller) HandleResponses(batch []domain.Response) {
	for _, resp := range batch {
		resp.Process(c)
		if c.stopRequested {
			c.finishSession()
		}
	}

	if report, ok := newErrorReport(c.batchErrors); ok {
		for _, o := range c.observers {
			o.ErrorsReported(report)
		}
	}
	c.batchErrors = nil

	followUps := c.followUps
	c.followUps = nil
	for _, f := range followUps {
		send := c.send
		if f.record {
			send = c.sendRecord
		}
		if err := send(f.req); err != nil {
			c.logger.Error("Failed to continue session", "error", err)
			c.running = false
		}
	}
}

// ReportErrors implements domain.ResponseHandler.
func (c *Controller) ReportErrors(entries []domain.ErrorEntry) {
	c.batchErrors = append(c.batchErrors, entries...)
	if domain.HasFatal(entries) {
		// A fatal error ends the request that produced it before any record response.
		c.settle()
		// The engine may not hold the project we think it does.
		c.project = nil
		if c.running {
			c.logger.Warn("Pausing session after fatal engine error")
			c.running = false
		}
	}
}

// ReadyToNavigateRecords implements domain.ResponseHandler. It commits the file iterator.
func (c *Controller) ReadyToNavigateRecords(file string, numberOfRecords int) {
	if c.mode == domain.ModeNone {
		return
	}
	c.fileIndex = c.pendingIndex
	c.numberOfRecords = numberOfRecords
	c.currentRecord = 0
	for _, o := range c.observers {
		o.FileChanged(c.fileIndex, file, numberOfRecords)
		o.RecordChanged(0, numberOfRecords)
	}
}

// CurrentRecord implements domain.ResponseHandler.
func (c *Controller) CurrentRecord(record int) {
	c.settle()
	c.currentRecord = record
	for _, o := range c.observers {
		o.RecordChanged(record, c.numberOfRecords)
	}
	if c.continuing() {
		c.followUps = append(c.followUps, followUp{engine.NextRecordFor(c.mode), true})
	}
}

// EndOfRecords implements domain.ResponseHandler.
func (c *Controller) EndOfRecords() {
	c.settle()
	c.currentRecord = c.numberOfRecords + 1
	for _, o := range c.observers {
		o.EndOfRecords(c.numberOfRecords)
	}
	if !c.continuing() {
		return
	}

	next := c.fileIndex + 1
	if next < c.session.Len() {
		c.followUps = append(c.followUps, followUp{c.switchFile(next), true})
		return
	}
	c.logger.Info("Session complete", "files", c.session.Len())
	c.running = false
	c.finishing = true
	c.followUps = append(c.followUps, followUp{engine.EndFileFor(c.mode), false})
}

// EndOfFile implements domain.ResponseHandler.
func (c *Controller) EndOfFile() {
	if c.finishing {
		c.finishSession()
	}
}

// Pages implements domain.ResponseHandler.
func (c *Controller) Pages(plots []domain.PlotData, cells []domain.Cell, labels []domain.PageLabel) {
	pages := BuildPages(plots, cells, labels)
	if len(pages) == 0 {
		return
	}
	for _, o := range c.observers {
		o.PagesChanged(pages)
	}
}

// StartSession ends any running access and opens the first file of s in mode.
func (c *Controller) StartSession(mode domain.Mode, s *Session) error {
	if mode == domain.ModeNone {
		return ErrInvalidMode
	}
	if s.Len() == 0 {
		return ErrEmptySession
	}

	req := engine.NewCompound()
	if c.mode != domain.ModeNone {
		req.Add(engine.EndFileFor(c.mode))
	}

	c.session = s
	c.fileIndex = -1
	c.currentRecord, c.numberOfRecords = 0, 0
	c.project = nil
	c.stopRequested, c.running, c.finishing = false, false, false
	c.setMode(mode)
	for _, o := range c.observers {
		o.SessionChanged(s.Len())
	}

	c.appendOpen(req, 0)
	return c.sendRecord(req)
}

// RunSession starts s already running: the first record request of the opening compound
// drives the whole session, so no extra step is issued.
func (c *Controller) RunSession(mode domain.Mode, s *Session) error {
	if err := c.StartSession(mode, s); err != nil {
		return err
	}
	c.running = true
	return nil
}

// GotoFile closes the current file and opens the i-th file of the session.
// The iterator only moves once the engine confirms the file opened.
func (c *Controller) GotoFile(i int) error {
	if c.mode == domain.ModeNone {
		return ErrNoSession
	}
	if i < 0 || i >= c.session.Len() {
		return fmt.Errorf("%w: %d", ErrFileIndex, i)
	}
	return c.sendRecord(c.switchFile(i))
}

func (c *Controller) NextFile() error {
	if c.mode == domain.ModeNone {
		return ErrNoSession
	}
	if c.fileIndex+1 >= c.session.Len() {
		return ErrNoMoreFiles
	}
	return c.GotoFile(c.fileIndex + 1)
}

func (c *Controller) PreviousFile() error {
	if c.mode == domain.ModeNone {
		return ErrNoSession
	}
	if c.fileIndex <= 0 {
		return ErrNoMoreFiles
	}
	return c.GotoFile(c.fileIndex - 1)
}

// NextRecord asks for the next record matching the project selection.
func (c *Controller) NextRecord() error {
	if c.mode == domain.ModeNone {
		return ErrNoSession
	}
	return c.sendRecord(engine.NextRecordFor(c.mode))
}

// GotoRecord asks for a specific record of the current file.
func (c *Controller) GotoRecord(record int) error {
	if c.mode == domain.ModeNone {
		return ErrNoSession
	}
	if record < 1 || record > c.numberOfRecords {
		return fmt.Errorf("%w: %d of %d", domain.ErrRecordOutOfRange, record, c.numberOfRecords)
	}
	return c.sendRecord(engine.SpecificRecordFor(c.mode, record))
}

// Step moves to the next record, or to the next file once the current one is exhausted.
func (c *Controller) Step() error {
	if c.AtEndOfRecords() {
		return c.NextFile()
	}
	return c.NextRecord()
}

// Run steps through the rest of the session, one record per response, until the last file
// is exhausted, Pause or Stop is called, or the engine reports a fatal error.
// Only one chain of record requests ever runs: calling Run while running does nothing, and a
// request already in flight continues the chain instead of a new step.
func (c *Controller) Run() error {
	if c.mode == domain.ModeNone {
		return ErrNoSession
	}
	if c.running {
		return nil
	}
	if c.inFlight > 0 {
		c.running = true
		return nil
	}
	if err := c.Step(); err != nil {
		return err
	}
	c.running = true
	return nil
}

// Pause stops Run after the record in flight.
func (c *Controller) Pause() { c.running = false }

// Stop winds the session down. It does not interrupt the engine: it closes the current file
// and the next response handled flips the mode back to idle.
func (c *Controller) Stop() error {
	if c.mode == domain.ModeNone {
		return ErrNoSession
	}
	c.stopRequested = true
	c.running = false
	return c.send(engine.EndFileFor(c.mode))
}

// switchFile builds the compound that tears down the current file and sets up file i.
func (c *Controller) switchFile(i int) *engine.Compound {
	req := engine.NewCompound(engine.EndFileFor(c.mode))
	c.appendOpen(req, i)
	return req
}

func (c *Controller) appendOpen(req *engine.Compound, i int) {
	if p := c.session.project(i); c.project == nil || !c.project.Equal(p) {
		req.Add(engine.NewSetProject(p))
		c.project = p.Clone()
	}
	req.Add(engine.BeginFileFor(c.mode, c.session.path(i)))
	req.Add(engine.NextRecordFor(c.mode))
	c.pendingIndex = i
}

func (c *Controller) finishSession() {
	c.stopRequested, c.running, c.finishing = false, false, false
	c.setMode(domain.ModeNone)
}

func (c *Controller) setMode(mode domain.Mode) {
	if c.mode == mode {
		return
	}
	c.mode = mode
	c.logger.Debug("Mode changed", "mode", mode)
	for _, o := range c.observers {
		o.ModeChanged(mode)
	}
}

func (c *Controller) send(req domain.Request) error {
	if err := c.submit.Submit(req); err != nil {
		return fmt.Errorf("failed to submit request: %w", err)
	}
	return nil
}

func (c *Controller) sendRecord(req domain.Request) error {
	if err := c.send(req); err != nil {
		return err
	}
	c.inFlight++
	return nil
}

func (c *Controller) settle() {
	if c.inFlight > 0 {
		c.inFlight--
	}
}

// continuing reports whether a running session should issue the next request now. While other
// record requests are in flight, the last of them to answer continues the chain.
func (c *Controller) continuing() bool {
	return c.running && !c.stopRequested && c.inFlight == 0
}
