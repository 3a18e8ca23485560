package broker

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RequestKind identifies the operation a participant is asking for.
type RequestKind int

const (
	// KindReset asks the joint engine to reset the whole simulation.
	KindReset RequestKind = iota
	// KindStep asks the joint engine to advance one timestep.
	KindStep
)

// String returns the wire name of the request kind.
func (k RequestKind) String() string {
	switch k {
	case KindReset:
		return "reset"
	case KindStep:
		return "step"
	default:
		return "unknown"
	}
}

// ErrMalformedEnvelope reports a request body that does not follow the
// single-participant, single-operation envelope form.
var ErrMalformedEnvelope = errors.New("malformed request envelope")

// ErrUnknownParticipant reports a request from a participant id that is not
// on the engine's roster.
var ErrUnknownParticipant = errors.New("unknown participant")

// ErrMissingSlice reports a joint response that carries no entry for the
// requesting participant.
var ErrMissingSlice = errors.New("response carries no slice for participant")

// Request is a decoded participant request. Action is nil for resets and the
// JSON-decoded action value for steps.
type Request struct {
	Participant string
	Kind        RequestKind
	Action      any
}

// EncodeRequest marshals a request into its wire envelope: a mapping with the
// participant id as its only key, whose value holds either "reset": null or
// "step": [action].
func EncodeRequest(participant string, kind RequestKind, action any) ([]byte, error) {
	var op map[string]any
	switch kind {
	case KindReset:
		op = map[string]any{"reset": nil}
	case KindStep:
		op = map[string]any{"step": []any{action}}
	default:
		return nil, fmt.Errorf("encode request: unknown kind %d", kind)
	}
	return json.Marshal(map[string]any{participant: op})
}

// DecodeRequest parses a wire envelope into a Request. The envelope must have
// exactly one top-level key (the participant id) whose value has exactly one
// key, "reset" or "step"; a step payload must be a non-empty array and only
// its first element is used.
func DecodeRequest(body []byte) (Request, error) {
	var outer map[string]map[string]json.RawMessage
	if err := json.Unmarshal(body, &outer); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(outer) != 1 {
		return Request{}, fmt.Errorf("%w: expected 1 top-level key, got %d", ErrMalformedEnvelope, len(outer))
	}
	var req Request
	for participant, op := range outer {
		req.Participant = participant
		if len(op) != 1 {
			return Request{}, fmt.Errorf("%w: expected 1 operation key, got %d", ErrMalformedEnvelope, len(op))
		}
		for name, payload := range op {
			switch name {
			case "reset":
				req.Kind = KindReset
			case "step":
				req.Kind = KindStep
				var args []any
				if err := json.Unmarshal(payload, &args); err != nil {
					return Request{}, fmt.Errorf("%w: step payload is not an array: %v", ErrMalformedEnvelope, err)
				}
				if len(args) == 0 {
					return Request{}, fmt.Errorf("%w: step payload is empty", ErrMalformedEnvelope)
				}
				req.Action = args[0]
			default:
				return Request{}, fmt.Errorf("%w: unknown operation %q", ErrMalformedEnvelope, name)
			}
		}
	}
	return req, nil
}

// StepOutcome is one participant's slice of a joint step: observation,
// reward, episode-done flag and an info map. On the wire it is the 4-element
// array [observation, reward, done, info].
//
// FromReset is set by the client when the cycle it waited on was resolved as
// a reset (another participant's reset won the cycle); the outcome then
// carries only the fresh observation. FromReset never appears on the wire.
type StepOutcome struct {
	Observation any
	Reward      float64
	Done        bool
	Info        map[string]any

	FromReset bool
}

// MarshalJSON encodes the outcome as [observation, reward, done, info].
func (o StepOutcome) MarshalJSON() ([]byte, error) {
	info := o.Info
	if info == nil {
		info = map[string]any{}
	}
	return json.Marshal([]any{o.Observation, o.Reward, o.Done, info})
}

// UnmarshalJSON decodes the [observation, reward, done, info] array form.
func (o *StepOutcome) UnmarshalJSON(b []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return fmt.Errorf("step outcome is not an array: %w", err)
	}
	if len(parts) != 4 {
		return fmt.Errorf("step outcome has %d elements, want 4", len(parts))
	}
	if err := json.Unmarshal(parts[0], &o.Observation); err != nil {
		return fmt.Errorf("step outcome observation: %w", err)
	}
	if err := json.Unmarshal(parts[1], &o.Reward); err != nil {
		return fmt.Errorf("step outcome reward: %w", err)
	}
	if err := json.Unmarshal(parts[2], &o.Done); err != nil {
		return fmt.Errorf("step outcome done: %w", err)
	}
	if err := json.Unmarshal(parts[3], &o.Info); err != nil {
		return fmt.Errorf("step outcome info: %w", err)
	}
	return nil
}

// ExtractSlice pulls one participant's entry out of a joint response body.
// The raw slice is returned undecoded; the caller knows whether it expects a
// bare observation or a step 4-tuple.
func ExtractSlice(body []byte, participant string) (json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode response envelope: %w", err)
	}
	raw, ok := m[participant]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingSlice, participant)
	}
	return raw, nil
}
