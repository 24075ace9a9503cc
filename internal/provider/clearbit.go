package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/enrich-engine/internal/model"
	"github.com/sells-group/enrich-engine/internal/resilience"
	"github.com/sells-group/enrich-engine/pkg/clearbit"
)

// clearbitFields are the company fields the adapter can fill.
var clearbitFields = []string{
	"company_name",
	"industry",
	"employee_count",
	"founded_year",
	"description",
	"location",
	"linkedin_url",
	"revenue_range",
}

// Clearbit adapts the Clearbit company API to the provider interface.
// Lookups key on a bare domain, so LinkedIn-only identifiers do not
// validate.
type Clearbit struct {
	client  clearbit.Client
	limiter *rate.Limiter
	tuning  ProviderTuning
}

// NewClearbit creates the adapter. Tuning zero values fall back to the
// adapter defaults.
func NewClearbit(client clearbit.Client, tuning ProviderTuning) *Clearbit {
	if tuning.CostMultiplier <= 0 {
		tuning.CostMultiplier = 1.0
	}
	if tuning.TTLDays <= 0 {
		tuning.TTLDays = model.DefaultTTLDays
	}
	if tuning.RatePerSecond <= 0 {
		tuning.RatePerSecond = 5
	}
	return &Clearbit{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(tuning.RatePerSecond), 1),
		tuning:  tuning,
	}
}

func (c *Clearbit) Name() string { return "clearbit" }

func (c *Clearbit) SupportedFields() []string {
	return append([]string(nil), clearbitFields...)
}

func (c *Clearbit) CanEnrich(field string) bool {
	for _, f := range clearbitFields {
		if f == field {
			return true
		}
	}
	return false
}

func (c *Clearbit) CostMultiplier() float64 { return c.tuning.CostMultiplier }

func (c *Clearbit) RequiredInputs() []string { return []string{"identifier"} }

// Validate accepts company entities whose identifier is a domain.
func (c *Clearbit) Validate(in Input) bool {
	if in.Type == model.EntityPerson {
		return false
	}
	return domainFromIdentifier(in.Identifier) != ""
}

func (c *Clearbit) Enrich(ctx context.Context, in Input) (map[string]model.FieldValue, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "clearbit: rate wait")
	}

	domain := domainFromIdentifier(in.Identifier)
	company, err := c.client.FindCompany(ctx, domain)
	if err != nil {
		if errors.Is(err, clearbit.ErrNotFound) {
			return map[string]model.FieldValue{}, nil
		}
		var apiErr *clearbit.APIError
		if errors.As(err, &apiErr) && resilience.RetryableStatus(apiErr.StatusCode) {
			return nil, resilience.Transient(err, apiErr.StatusCode)
		}
		return nil, err
	}

	out := make(map[string]model.FieldValue)
	add := func(field string, value any) {
		fv := model.NewFieldValue(value, 0.9, "clearbit")
		fv.Verified = true
		fv.Label = model.LabelVerified
		fv.TTLDays = c.tuning.TTLDays
		out[field] = fv
	}

	if company.Name != "" {
		add("company_name", company.Name)
	}
	if company.Category.Industry != "" {
		add("industry", company.Category.Industry)
	}
	if company.Metrics.Employees > 0 {
		add("employee_count", company.Metrics.Employees)
	}
	if company.FoundedYear > 0 {
		add("founded_year", company.FoundedYear)
	}
	if company.Description != "" {
		add("description", company.Description)
	}
	if loc := formatGeo(company.Geo); loc != "" {
		add("location", loc)
	}
	if company.LinkedInHandle != "" {
		add("linkedin_url", "https://www.linkedin.com/"+company.LinkedInHandle)
	}
	if company.Metrics.EstimatedAnnualRevenue != "" {
		add("revenue_range", company.Metrics.EstimatedAnnualRevenue)
	}
	return out, nil
}

// domainFromIdentifier extracts a bare domain from a normalized identifier:
// the domain itself, or the domain part of an email. LinkedIn slugs yield
// nothing.
func domainFromIdentifier(identifier string) string {
	if identifier == "" || strings.HasPrefix(identifier, "linkedin:") {
		return ""
	}
	if at := strings.LastIndex(identifier, "@"); at >= 0 {
		identifier = identifier[at+1:]
	}
	if slash := strings.Index(identifier, "/"); slash >= 0 {
		identifier = identifier[:slash]
	}
	if !strings.Contains(identifier, ".") {
		return ""
	}
	return identifier
}

func formatGeo(g clearbit.Geo) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{g.City, g.State, g.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
