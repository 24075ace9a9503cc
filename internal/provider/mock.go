package provider

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sells-group/enrich-engine/internal/model"
)

// Mock is a configurable in-process provider for tests and dev mode. Delay
// simulates provider latency so concurrency behavior is observable.
type Mock struct {
	ProviderName string
	Fields       []string
	Multiplier   float64
	Inputs       []string
	Delay        time.Duration
	Data         map[string]map[string]any // identifier -> field -> value
	Confidence   float64
	Err          error
	ValidateFn   func(Input) bool

	calls atomic.Int64
}

// Calls reports how many times Enrich ran. Safe to read while entities
// enrich concurrently.
func (m *Mock) Calls() int { return int(m.calls.Load()) }

var _ Provider = (*Mock)(nil)

func (m *Mock) Name() string              { return m.ProviderName }
func (m *Mock) SupportedFields() []string { return m.Fields }
func (m *Mock) CostMultiplier() float64   { return m.Multiplier }
func (m *Mock) RequiredInputs() []string  { return m.Inputs }

func (m *Mock) CanEnrich(field string) bool {
	for _, f := range m.Fields {
		if f == field {
			return true
		}
	}
	return false
}

func (m *Mock) Validate(in Input) bool {
	if m.ValidateFn != nil {
		return m.ValidateFn(in)
	}
	return true
}

func (m *Mock) Enrich(ctx context.Context, in Input) (map[string]model.FieldValue, error) {
	m.calls.Add(1)
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}

	row, ok := m.Data[in.Identifier]
	if !ok {
		return map[string]model.FieldValue{}, nil
	}

	conf := m.Confidence
	if conf == 0 {
		conf = 0.8
	}
	out := make(map[string]model.FieldValue)
	for _, f := range in.Fields {
		if v, ok := row[f]; ok {
			out[f] = model.NewFieldValue(v, conf, m.ProviderName)
		}
	}
	return out, nil
}
