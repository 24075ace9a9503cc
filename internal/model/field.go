package model

import (
	"fmt"
	"time"
)

// ValueLabel describes how a field value was obtained.
type ValueLabel string

const (
	LabelVerified  ValueLabel = "verified"
	LabelInferred  ValueLabel = "inferred"
	LabelGenerated ValueLabel = "generated"
)

// DefaultTTLDays is applied when a provider does not declare a TTL.
const DefaultTTLDays = 90

// FieldValue is the canonical envelope for a single enriched datum.
// Confidence is always within [0,1] and Sources is non-empty whenever
// Value is non-nil.
type FieldValue struct {
	Value      any        `json:"value"`
	Confidence float64    `json:"confidence"`
	Sources    []string   `json:"sources"`
	Verified   bool       `json:"verified,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	TTLDays    int        `json:"ttl_days"`
	Label      ValueLabel `json:"label,omitempty"`
}

// NewFieldValue constructs a FieldValue from a provider result, clamping
// confidence and stamping the current time.
func NewFieldValue(value any, confidence float64, source string) FieldValue {
	return FieldValue{
		Value:      value,
		Confidence: ClampConfidence(confidence),
		Sources:    []string{source},
		Timestamp:  time.Now().UTC(),
		TTLDays:    DefaultTTLDays,
	}
}

// ClampConfidence forces a confidence score into [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// IsStale reports whether the value has outlived its TTL at the given time.
// Values with no TTL never go stale.
func (fv FieldValue) IsStale(now time.Time) bool {
	if fv.TTLDays <= 0 {
		return false
	}
	return now.After(fv.Timestamp.AddDate(0, 0, fv.TTLDays))
}

// HasValue reports whether the envelope carries an actual value.
func (fv FieldValue) HasValue() bool {
	return fv.Value != nil
}

// consensusBoost is added when two independent sources agree on a value.
const consensusBoost = 0.1

// MergeFieldValues combines candidate values for the same field. The highest
// confidence candidate wins; when two or more independent sources agree on
// the winning value the merged confidence gets a consensus boost. Sources of
// agreeing candidates are unioned into the result.
func MergeFieldValues(candidates ...FieldValue) FieldValue {
	var present []FieldValue
	for _, c := range candidates {
		if c.HasValue() {
			present = append(present, c)
		}
	}
	if len(present) == 0 {
		if len(candidates) > 0 {
			return candidates[0]
		}
		return FieldValue{}
	}

	winner := present[0]
	for _, c := range present[1:] {
		if c.Confidence > winner.Confidence {
			winner = c
		}
	}

	merged := winner
	merged.Sources = append([]string(nil), winner.Sources...)

	agreeing := 0
	for _, c := range present {
		if sameValue(c.Value, winner.Value) {
			agreeing++
			for _, s := range c.Sources {
				if !containsString(merged.Sources, s) {
					merged.Sources = append(merged.Sources, s)
				}
			}
		}
	}
	if agreeing >= 2 {
		merged.Confidence = ClampConfidence(merged.Confidence + consensusBoost)
	}
	return merged
}

// sameValue compares candidate values by their canonical string form so that
// "500" from one provider agrees with 500 from another.
func sameValue(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
