package domain

import "context"

// RequestEnvelope is the transport form of a request.
// Kind selects the variant; the remaining fields are used as the variant requires.
type RequestEnvelope struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Kind      string            `json:"kind"`
	File      string            `json:"file,omitempty"`
	Record    int               `json:"record,omitempty"`
	Project   *Project          `json:"project,omitempty"`
	Children  []RequestEnvelope `json:"children,omitempty"`
	Run       *RunSpec          `json:"run,omitempty"`

	// RawID is the internal Stream ID from Redis (e.g. 1700000-0).
	// It is needed to acknowledge the message later.
	RawID string `json:"-"`
}

// ResponseEnvelope is the transport form of a response.
type ResponseEnvelope struct {
	Kind            string       `json:"kind"`
	File            string       `json:"file,omitempty"`
	NumberOfRecords int          `json:"number_of_records,omitempty"`
	Record          int          `json:"record,omitempty"`
	Errors          []ErrorEntry `json:"errors,omitempty"`
	Plots           []PlotData   `json:"plots,omitempty"`
	Cells           []Cell       `json:"cells,omitempty"`
	Labels          []PageLabel  `json:"labels,omitempty"`
}

// ResponseBatch is the set of responses drained from an engine thread in one go.
type ResponseBatch struct {
	SessionID string             `json:"session_id"`
	Seq       uint64             `json:"seq"`
	Responses []ResponseEnvelope `json:"responses"`
}

// RequestQueue defines the contract for a distributed request queue.
// It decouples hosts from the engine workers and from the underlying message broker.
type RequestQueue interface {
	// Publish enqueues a request envelope for an engine worker.
	Publish(ctx context.Context, env RequestEnvelope) error

	// Subscribe returns a read-only channel that streams request envelopes in publication order.
	Subscribe(ctx context.Context) (<-chan RequestEnvelope, error)

	// Acknowledge confirms that an envelope was handed to its engine thread.
	Acknowledge(ctx context.Context, rawID string) error

	// Broadcast publishes a response batch to every subscribed host.
	Broadcast(ctx context.Context, batch ResponseBatch) error

	// SubscribeBatches returns a channel that streams response batches from all workers.
	SubscribeBatches(ctx context.Context) (<-chan ResponseBatch, error)
}
