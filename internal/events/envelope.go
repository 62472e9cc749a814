// Package events carries collection domain events from the engine to
// downstream consumers through a Postgres outbox.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CanonicalEvent is a versioned domain event. Types end in ".v<N>".
type CanonicalEvent interface {
	EventType() string
}

// Envelope is the wire form stored in the outbox and forwarded to consumers.
type Envelope struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	Version    int             `json:"version"`
	Aggregate  string          `json:"aggregate"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// SealOption adjusts an envelope before it is stored.
type SealOption func(*Envelope)

// WithID pins the envelope id.
func WithID(id uuid.UUID) SealOption {
	return func(e *Envelope) {
		if id != uuid.Nil {
			e.ID = id
		}
	}
}

// At pins the occurrence time.
func At(ts time.Time) SealOption {
	return func(e *Envelope) {
		if !ts.IsZero() {
			e.OccurredAt = ts.UTC()
		}
	}
}

var (
	ErrNoAggregate = errors.New("events: aggregate is required")
	ErrNoEvent     = errors.New("events: event is required")

	clock = time.Now
)

// Seal wraps evt for the given aggregate.
func Seal(aggregate string, evt CanonicalEvent, opts ...SealOption) (Envelope, error) {
	aggregate = strings.TrimSpace(aggregate)
	if aggregate == "" {
		return Envelope{}, ErrNoAggregate
	}
	if evt == nil {
		return Envelope{}, ErrNoEvent
	}
	typ := strings.TrimSpace(evt.EventType())
	version, err := versionOf(typ)
	if err != nil {
		return Envelope{}, err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: encode %s: %w", typ, err)
	}
	env := Envelope{
		ID:         uuid.New(),
		Type:       typ,
		Version:    version,
		Aggregate:  aggregate,
		OccurredAt: clock().UTC(),
		Data:       data,
	}
	for _, opt := range opts {
		opt(&env)
	}
	return env, nil
}

// Decode unmarshals the event data into dst.
func (e Envelope) Decode(dst any) error {
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("events: decode %s: %w", e.Type, err)
	}
	return nil
}

func versionOf(typ string) (int, error) {
	idx := strings.LastIndex(typ, ".v")
	if idx <= 0 {
		return 0, fmt.Errorf("events: type %q has no version suffix", typ)
	}
	v, err := strconv.Atoi(typ[idx+2:])
	if err != nil || v < 1 {
		return 0, fmt.Errorf("events: type %q has an invalid version", typ)
	}
	return v, nil
}

// ClinicAggregate is the aggregate key for collection events.
func ClinicAggregate(clinicID string) string {
	return "clinic:" + strings.TrimSpace(clinicID)
}
