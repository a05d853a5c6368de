// Package wire converts engine requests and responses to and from their transport envelopes.
package wire

import (
	"errors"
	"fmt"

	"github.com/dontdude/qdoas/internal/domain"
	"github.com/dontdude/qdoas/internal/engine"
)

// Request kinds that are not tied to an access mode.
const (
	KindSetProject    = "set_project"
	KindCompound      = "compound"
	KindBatchAnalysis = "batch_analysis"
)

// Response kinds.
const (
	KindMessage         = "message"
	KindBeginAccessFile = "begin_access_file"
	KindAccessRecord    = "access_record"
	KindEndAccessFile   = "end_access_file"
)

var ErrUnknownKind = errors.New("unknown envelope kind")

type fileOp int

const (
	opBegin fileOp = iota
	opNext
	opSpecific
	opEnd
)

type modeKind struct {
	op   fileOp
	mode domain.Mode
}

var (
	kindOf   = make(map[modeKind]string)
	kindInfo = make(map[string]modeKind)
)

func init() {
	for _, m := range []domain.Mode{domain.ModeBrowse, domain.ModeAnalyse, domain.ModeCalibrate} {
		name := m.String()
		for op, kind := range map[fileOp]string{
			opBegin:    "begin_" + name + "_file",
			opNext:     name + "_next_record",
			opSpecific: name + "_specific_record",
			opEnd:      "end_" + name + "_file",
		} {
			kindOf[modeKind{op, m}] = kind
			kindInfo[kind] = modeKind{op, m}
		}
	}
}

// BeginFileKind returns the envelope kind of a begin request, e.g. "begin_browse_file".
func BeginFileKind(m domain.Mode) string { return kindOf[modeKind{opBegin, m}] }

// EncodeRequest converts req to an envelope. IDs are left for the caller to fill in.
func EncodeRequest(req domain.Request) (domain.RequestEnvelope, error) {
	switch r := req.(type) {
	case *engine.SetProject:
		return domain.RequestEnvelope{Kind: KindSetProject, Project: r.Project()}, nil
	case *engine.BeginFile:
		return modeEnvelope(opBegin, r.Mode, domain.RequestEnvelope{File: r.File})
	case *engine.NextRecord:
		return modeEnvelope(opNext, r.Mode, domain.RequestEnvelope{})
	case *engine.SpecificRecord:
		return modeEnvelope(opSpecific, r.Mode, domain.RequestEnvelope{Record: r.Record})
	case *engine.EndFile:
		return modeEnvelope(opEnd, r.Mode, domain.RequestEnvelope{})
	case *engine.BatchAnalysis:
		spec := r.Spec()
		return domain.RequestEnvelope{Kind: KindBatchAnalysis, Run: &spec}, nil
	case *engine.Compound:
		env := domain.RequestEnvelope{Kind: KindCompound}
		for i, child := range r.Children() {
			c, err := EncodeRequest(child)
			if err != nil {
				return domain.RequestEnvelope{}, fmt.Errorf("child %d: %w", i, err)
			}
			env.Children = append(env.Children, c)
		}
		return env, nil
	}
	return domain.RequestEnvelope{}, fmt.Errorf("%w: request %T", ErrUnknownKind, req)
}

func modeEnvelope(op fileOp, m domain.Mode, env domain.RequestEnvelope) (domain.RequestEnvelope, error) {
	kind, ok := kindOf[modeKind{op, m}]
	if !ok {
		return domain.RequestEnvelope{}, fmt.Errorf("%w: no request for mode %s", ErrUnknownKind, m)
	}
	env.Kind = kind
	return env, nil
}

// DecodeRequest builds the request described by env.
func DecodeRequest(env domain.RequestEnvelope) (domain.Request, error) {
	switch env.Kind {
	case KindSetProject:
		if env.Project == nil {
			return nil, fmt.Errorf("%s: missing project", env.Kind)
		}
		return engine.NewSetProject(env.Project), nil
	case KindBatchAnalysis:
		if env.Run == nil {
			return nil, fmt.Errorf("%s: missing run spec", env.Kind)
		}
		return engine.NewBatchAnalysis(*env.Run), nil
	case KindCompound:
		c := engine.NewCompound()
		for i, child := range env.Children {
			req, err := DecodeRequest(child)
			if err != nil {
				return nil, fmt.Errorf("child %d: %w", i, err)
			}
			c.Add(req)
		}
		return c, nil
	}

	info, ok := kindInfo[env.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	switch info.op {
	case opBegin:
		if env.File == "" {
			return nil, fmt.Errorf("%s: missing file", env.Kind)
		}
		return engine.BeginFileFor(info.mode, env.File), nil
	case opNext:
		return engine.NextRecordFor(info.mode), nil
	case opSpecific:
		return engine.SpecificRecordFor(info.mode, env.Record), nil
	default:
		return engine.EndFileFor(info.mode), nil
	}
}

// EncodeResponse converts resp to an envelope.
func EncodeResponse(resp domain.Response) (domain.ResponseEnvelope, error) {
	var (
		env domain.ResponseEnvelope
		p   *engine.Payload
	)
	switch r := resp.(type) {
	case *engine.Message:
		env.Kind, p = KindMessage, &r.Payload
	case *engine.BeginAccessFile:
		env.Kind, p = KindBeginAccessFile, &r.Payload
		env.File, env.NumberOfRecords = r.File, r.NumberOfRecords
	case *engine.AccessRecord:
		env.Kind, p = KindAccessRecord, &r.Payload
		env.Record = r.Record
	case *engine.EndAccessFile:
		env.Kind, p = KindEndAccessFile, &r.Payload
	default:
		return domain.ResponseEnvelope{}, fmt.Errorf("%w: response %T", ErrUnknownKind, resp)
	}
	env.Errors, env.Plots, env.Cells, env.Labels = p.Errors, p.Plots, p.Cells, p.Labels
	return env, nil
}

// DecodeResponse builds the response described by env.
func DecodeResponse(env domain.ResponseEnvelope) (domain.Response, error) {
	payload := engine.Payload{Errors: env.Errors, Plots: env.Plots, Cells: env.Cells, Labels: env.Labels}
	switch env.Kind {
	case KindMessage:
		return &engine.Message{Payload: payload}, nil
	case KindBeginAccessFile:
		return &engine.BeginAccessFile{Payload: payload, File: env.File, NumberOfRecords: env.NumberOfRecords}, nil
	case KindAccessRecord:
		return &engine.AccessRecord{Payload: payload, Record: env.Record}, nil
	case KindEndAccessFile:
		return &engine.EndAccessFile{Payload: payload}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
}

// EncodeBatch converts a drained response batch.
func EncodeBatch(sessionID string, seq uint64, responses []domain.Response) (domain.ResponseBatch, error) {
	batch := domain.ResponseBatch{SessionID: sessionID, Seq: seq, Responses: make([]domain.ResponseEnvelope, 0, len(responses))}
	for _, r := range responses {
		env, err := EncodeResponse(r)
		if err != nil {
			return domain.ResponseBatch{}, err
		}
		batch.Responses = append(batch.Responses, env)
	}
	return batch, nil
}

// DecodeBatch converts a batch back into responses in their original order.
func DecodeBatch(batch domain.ResponseBatch) ([]domain.Response, error) {
	out := make([]domain.Response, 0, len(batch.Responses))
	for i, env := range batch.Responses {
		r, err := DecodeResponse(env)
		if err != nil {
			return nil, fmt.Errorf("response %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}
