package domain

import "context"

// Executor is the view a request gets of the engine thread executing it.
type Executor interface {
	// EngineContext returns the thread's exclusively owned engine handle.
	EngineContext() EngineContext
	// Respond queues a response for the host.
	Respond(resp Response)
	// Runner returns the container runner used for batch analysis, or nil if none is configured.
	Runner() ContainerRunner
}

// Request is one operation executed by the engine thread.
// Process runs exactly once, on the engine thread, and returns false when the operation failed.
type Request interface {
	Process(ctx context.Context, x Executor) bool
}

// Response is one result delivered from the engine thread to the host.
// Process runs on the host's event goroutine and is the only place host-visible state changes.
type Response interface {
	Process(h ResponseHandler)
}

// ResponseHandler is the host-side surface responses act on.
type ResponseHandler interface {
	// ReportErrors collects the messages attached to a response.
	ReportErrors(entries []ErrorEntry)
	// ReadyToNavigateRecords is called when a file was opened successfully.
	ReadyToNavigateRecords(file string, numberOfRecords int)
	// CurrentRecord is called when the engine reached a record.
	CurrentRecord(record int)
	// EndOfRecords is called when the engine ran out of matching records.
	EndOfRecords()
	// EndOfFile is called when the engine closed the file.
	EndOfFile()
	// Pages delivers the plot, table and label output of a response.
	Pages(plots []PlotData, cells []Cell, labels []PageLabel)
}
