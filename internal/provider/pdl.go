package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/enrich-engine/internal/model"
	"github.com/sells-group/enrich-engine/internal/resilience"
	"github.com/sells-group/enrich-engine/pkg/pdl"
)

// pdlFields are the person fields the adapter can fill.
var pdlFields = []string{
	"full_name",
	"job_title",
	"company",
	"location",
	"work_email",
	"linkedin_url",
	"industry",
}

// PDL adapts the People Data Labs person API to the provider interface.
// Lookups key on a LinkedIn profile or an email address.
type PDL struct {
	client  pdl.Client
	limiter *rate.Limiter
	tuning  ProviderTuning
}

// NewPDL creates the adapter.
func NewPDL(client pdl.Client, tuning ProviderTuning) *PDL {
	if tuning.CostMultiplier <= 0 {
		tuning.CostMultiplier = 3.0
	}
	if tuning.TTLDays <= 0 {
		tuning.TTLDays = model.DefaultTTLDays
	}
	if tuning.RatePerSecond <= 0 {
		tuning.RatePerSecond = 2
	}
	return &PDL{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(tuning.RatePerSecond), 1),
		tuning:  tuning,
	}
}

func (p *PDL) Name() string { return "pdl" }

func (p *PDL) SupportedFields() []string {
	return append([]string(nil), pdlFields...)
}

func (p *PDL) CanEnrich(field string) bool {
	for _, f := range pdlFields {
		if f == field {
			return true
		}
	}
	return false
}

func (p *PDL) CostMultiplier() float64 { return p.tuning.CostMultiplier }

func (p *PDL) RequiredInputs() []string { return []string{"identifier"} }

// Validate accepts person entities with a profile or email identifier.
func (p *PDL) Validate(in Input) bool {
	if in.Type == model.EntityCompany {
		return false
	}
	params := lookupParams(in.Identifier)
	return params.Profile != "" || params.Email != ""
}

func (p *PDL) Enrich(ctx context.Context, in Input) (map[string]model.FieldValue, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "pdl: rate wait")
	}

	person, err := p.client.EnrichPerson(ctx, lookupParams(in.Identifier))
	if err != nil {
		if errors.Is(err, pdl.ErrNotFound) {
			return map[string]model.FieldValue{}, nil
		}
		var apiErr *pdl.APIError
		if errors.As(err, &apiErr) && resilience.RetryableStatus(apiErr.StatusCode) {
			return nil, resilience.Transient(err, apiErr.StatusCode)
		}
		return nil, err
	}

	out := make(map[string]model.FieldValue)
	add := func(field string, value any) {
		fv := model.NewFieldValue(value, 0.85, "pdl")
		fv.Verified = true
		fv.Label = model.LabelVerified
		fv.TTLDays = p.tuning.TTLDays
		out[field] = fv
	}

	if person.FullName != "" {
		add("full_name", person.FullName)
	}
	if person.JobTitle != "" {
		add("job_title", person.JobTitle)
	}
	if person.JobCompanyName != "" {
		add("company", person.JobCompanyName)
	}
	if person.LocationName != "" {
		add("location", person.LocationName)
	}
	if person.WorkEmail != "" {
		add("work_email", person.WorkEmail)
	}
	if person.LinkedInURL != "" {
		add("linkedin_url", person.LinkedInURL)
	}
	if person.Industry != "" {
		add("industry", person.Industry)
	}
	return out, nil
}

// lookupParams maps a normalized identifier onto the API's lookup keys.
func lookupParams(identifier string) pdl.EnrichParams {
	switch {
	case strings.HasPrefix(identifier, "linkedin:company:"):
		return pdl.EnrichParams{}
	case strings.HasPrefix(identifier, "linkedin:"):
		slug := strings.TrimPrefix(identifier, "linkedin:")
		return pdl.EnrichParams{Profile: "linkedin.com/in/" + slug}
	case strings.Contains(identifier, "@"):
		return pdl.EnrichParams{Email: identifier}
	default:
		return pdl.EnrichParams{}
	}
}
