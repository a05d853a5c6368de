package engine

import (
	"context"

	"github.com/dontdude/qdoas/internal/domain"
)

// Compound is an ordered list of requests queued as a single entry.
// Nothing else can run between its children, and the first failing child aborts the rest.
type Compound struct {
	children []domain.Request
}

func NewCompound(reqs ...domain.Request) *Compound {
	c := &Compound{}
	for _, r := range reqs {
		c.Add(r)
	}
	return c
}

// Add appends req. The compound takes ownership: the caller must not submit req on its own.
// Nil requests are ignored.
func (c *Compound) Add(req domain.Request) *Compound {
	if req != nil {
		c.children = append(c.children, req)
	}
	return c
}

func (c *Compound) Len() int { return len(c.children) }

// Children returns the children in execution order.
func (c *Compound) Children() []domain.Request {
	return append([]domain.Request(nil), c.children...)
}

func (c *Compound) Process(ctx context.Context, x domain.Executor) bool {
	for _, req := range c.children {
		if !req.Process(ctx, x) {
			return false
		}
	}
	return true
}

// ForMode helpers build the request of the requested mode.
// The controller uses them so it never branches on the mode itself.

func BeginFileFor(mode domain.Mode, file string) *BeginFile { return &BeginFile{Mode: mode, File: file} }
func NextRecordFor(mode domain.Mode) *NextRecord            { return &NextRecord{Mode: mode} }
func EndFileFor(mode domain.Mode) *EndFile                  { return &EndFile{Mode: mode} }

func SpecificRecordFor(mode domain.Mode, record int) *SpecificRecord {
	return &SpecificRecord{Mode: mode, Record: record}
}
