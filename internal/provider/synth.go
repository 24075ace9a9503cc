package provider

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/enrich-engine/internal/model"
	"github.com/sells-group/enrich-engine/pkg/synth"
)

// synthTTLDays is deliberately short: generated values decay faster than
// verified ones.
const synthTTLDays = 30

// maxSynthConfidence caps generated values below any verified source.
const maxSynthConfidence = 0.7

// Synth adapts LLM synthesis to the provider interface. It is the most
// expensive rung of the waterfall and accepts any field, so it only runs
// when every data provider has missed.
type Synth struct {
	client  synth.Client
	limiter *rate.Limiter
	tuning  ProviderTuning
	fields  []string
}

// NewSynth creates the adapter. fields is the full set of enrichable
// fields the deployment knows about.
func NewSynth(client synth.Client, fields []string, tuning ProviderTuning) *Synth {
	if tuning.CostMultiplier <= 0 {
		tuning.CostMultiplier = 5.0
	}
	if tuning.TTLDays <= 0 {
		tuning.TTLDays = synthTTLDays
	}
	if tuning.RatePerSecond <= 0 {
		tuning.RatePerSecond = 1
	}
	return &Synth{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(tuning.RatePerSecond), 1),
		tuning:  tuning,
		fields:  append([]string(nil), fields...),
	}
}

func (s *Synth) Name() string { return "synth" }

func (s *Synth) SupportedFields() []string {
	return append([]string(nil), s.fields...)
}

func (s *Synth) CanEnrich(field string) bool {
	for _, f := range s.fields {
		if f == field {
			return true
		}
	}
	return false
}

func (s *Synth) CostMultiplier() float64 { return s.tuning.CostMultiplier }

func (s *Synth) RequiredInputs() []string { return []string{"identifier"} }

func (s *Synth) Validate(in Input) bool { return in.Identifier != "" }

func (s *Synth) Enrich(ctx context.Context, in Input) (map[string]model.FieldValue, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "synth: rate wait")
	}

	result, err := s.client.Synthesize(ctx, synth.Request{
		EntityType: string(in.Type),
		Identifier: in.Identifier,
		Fields:     in.Fields,
		Known:      in.SourceData,
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]model.FieldValue, len(result.Fields))
	for field, guess := range result.Fields {
		if guess.Value == nil || !s.CanEnrich(field) {
			continue
		}
		conf := guess.Confidence
		if conf > maxSynthConfidence {
			conf = maxSynthConfidence
		}
		fv := model.NewFieldValue(guess.Value, conf, "synth")
		fv.Label = model.LabelGenerated
		fv.TTLDays = s.tuning.TTLDays
		out[field] = fv
	}
	return out, nil
}
