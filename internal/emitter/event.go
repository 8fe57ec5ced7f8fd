// Package emitter publishes pipeline completion events to MQTT.
package emitter

import (
	"encoding/json"
	"time"

	"github.com/e7canasta/effect-quickstart/internal/engine"
	"github.com/e7canasta/effect-quickstart/internal/pipeline"
)

// Event types
const (
	TypeProcessed = "photo_processed"
	TypeFailed    = "photo_failed"
)

// Event is the JSON payload published for one run.
type Event struct {
	Type       string    `json:"type"`
	InstanceID string    `json:"instance_id"`
	RunID      string    `json:"run_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	Seq        uint64    `json:"seq,omitempty"`
	Effect     string    `json:"effect"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	Output     string    `json:"output,omitempty"`
	LatencyMS  int64     `json:"latency_ms,omitempty"`
	EffectErr  string    `json:"effect_error,omitempty"`
	Error      string    `json:"error,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Processed builds the event for a successful result saved at output.
func Processed(instanceID, runID string, res pipeline.Result, output string) Event {
	ev := Event{
		Type:       TypeProcessed,
		InstanceID: instanceID,
		RunID:      runID,
		TraceID:    res.TraceID,
		Seq:        res.Seq,
		Effect:     res.Effect,
		Output:     output,
		LatencyMS:  res.Latency.Milliseconds(),
		Timestamp:  res.ProcessedAt,
	}
	if res.Image != nil {
		ev.Width = res.Image.Bounds().Dx()
		ev.Height = res.Image.Bounds().Dy()
	}
	if res.EffectErr != nil {
		ev.EffectErr = res.EffectErr.Error()
	}
	return ev
}

// Failed builds the event for a run aborted by err.
func Failed(instanceID, runID, effect string, err error) Event {
	return Event{
		Type:       TypeFailed,
		InstanceID: instanceID,
		RunID:      runID,
		Effect:     effect,
		Error:      err.Error(),
		Kind:       engine.KindOf(err).String(),
		Timestamp:  time.Now(),
	}
}

// ToJSON encodes the event.
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
