package corpusconv

import (
	"context"
	"encoding/json"
	"fmt"
)

// ConversionRecord is the standardized output unit produced from exactly one
// source record. The shape is fixed; domain meaning is supplied entirely by
// the RecordTransformer that built it.
type ConversionRecord struct {
	Question      string            `json:"question"`
	AnswerType    string            `json:"answer_type"`
	CorrectAnswer string            `json:"correct_answer"`
	Choices       []string          `json:"choices,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// RecordTransformer converts one raw source object into a ConversionRecord.
// It is the externally supplied, domain-specific collaborator of the
// pipeline: the pipeline owns streaming, chunking, checkpointing and memory
// policy, the transformer owns meaning.
//
// A transform error is never fatal by itself. The chunk processor records it
// against the failing record's ordinal and continues, up to the configured
// failure-rate threshold for the chunk.
//
// Implementations must be safe for concurrent use: the worker pool calls
// Transform from multiple goroutines.
//
// Example:
//
//	type quizTransformer struct{}
//
//	func (quizTransformer) Transform(ctx context.Context, raw json.RawMessage) (ConversionRecord, error) {
//	    var in struct {
//	        Prompt string   `json:"prompt"`
//	        Answer string   `json:"answer"`
//	        Wrong  []string `json:"distractors"`
//	    }
//	    if err := json.Unmarshal(raw, &in); err != nil {
//	        return ConversionRecord{}, err
//	    }
//	    return ConversionRecord{
//	        Question:      in.Prompt,
//	        AnswerType:    "multiple_choice",
//	        CorrectAnswer: in.Answer,
//	        Choices:       append([]string{in.Answer}, in.Wrong...),
//	    }, nil
//	}
type RecordTransformer interface {
	Transform(ctx context.Context, raw json.RawMessage) (ConversionRecord, error)
}

// TransformerFunc adapts a plain function to the RecordTransformer interface.
type TransformerFunc func(ctx context.Context, raw json.RawMessage) (ConversionRecord, error)

func (f TransformerFunc) Transform(ctx context.Context, raw json.RawMessage) (ConversionRecord, error) {
	return f(ctx, raw)
}

// Dispatcher is a RecordTransformer that routes each record to one of a
// fixed set of registered transformers based on a discriminant field in the
// raw object. It keeps per-shape handling additive: supporting a new input
// format is one more Register call, not another branch inside a transformer.
//
// Example:
//
//	d := corpusconv.NewDispatcher("format")
//	d.Register("mcq", mcqTransformer{})
//	d.Register("freeform", freeformTransformer{})
type Dispatcher struct {
	field    string
	fallback RecordTransformer
	byKey    map[string]RecordTransformer
}

// NewDispatcher creates a Dispatcher keyed on the given top-level field of
// each raw record.
func NewDispatcher(field string) *Dispatcher {
	return &Dispatcher{
		field: field,
		byKey: make(map[string]RecordTransformer),
	}
}

// Register associates a discriminant value with a transformer. Registering
// the same key twice replaces the earlier transformer.
func (d *Dispatcher) Register(key string, t RecordTransformer) {
	d.byKey[key] = t
}

// Fallback sets the transformer used when a record's discriminant value has
// no registration. Without a fallback such records fail with an error that
// counts against the chunk's failure rate.
func (d *Dispatcher) Fallback(t RecordTransformer) {
	d.fallback = t
}

var _ RecordTransformer = (*Dispatcher)(nil)

func (d *Dispatcher) Transform(ctx context.Context, raw json.RawMessage) (ConversionRecord, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ConversionRecord{}, fmt.Errorf("dispatch: %w", err)
	}

	var key string
	if v, ok := probe[d.field]; ok {
		// Non-string discriminants fall through to the fallback.
		_ = json.Unmarshal(v, &key)
	}

	if t, ok := d.byKey[key]; ok {
		return t.Transform(ctx, raw)
	}
	if d.fallback != nil {
		return d.fallback.Transform(ctx, raw)
	}
	return ConversionRecord{}, fmt.Errorf("dispatch: no transformer registered for %s=%q", d.field, key)
}
