// Package clearbit wraps the Clearbit Company API used for firmographic
// enrichment by domain.
package clearbit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://company.clearbit.com"

// ErrNotFound is returned when no company matches the lookup.
var ErrNotFound = eris.New("clearbit: company not found")

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("clearbit: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client performs company lookups against the Clearbit API.
type Client interface {
	FindCompany(ctx context.Context, domain string) (*Company, error)
}

// Company is the subset of the company response the engine uses.
type Company struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	LegalName      string   `json:"legalName"`
	Domain         string   `json:"domain"`
	Description    string   `json:"description"`
	FoundedYear    int      `json:"foundedYear"`
	LinkedInHandle string   `json:"linkedin_handle"`
	Tags           []string `json:"tags"`
	Category       Category `json:"category"`
	Metrics        Metrics  `json:"metrics"`
	Geo            Geo      `json:"geo"`
}

// Category classifies the company's industry.
type Category struct {
	Sector      string `json:"sector"`
	Industry    string `json:"industry"`
	SubIndustry string `json:"subIndustry"`
}

// Metrics holds company size figures.
type Metrics struct {
	Employees              int    `json:"employees"`
	EmployeesRange         string `json:"employeesRange"`
	EstimatedAnnualRevenue string `json:"estimatedAnnualRevenue"`
	Raised                 int64  `json:"raised"`
}

// Geo holds headquarters location fields.
type Geo struct {
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Clearbit API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) FindCompany(ctx context.Context, domain string) (*Company, error) {
	u := c.baseURL + "/v2/companies/find?domain=" + url.QueryEscape(domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "clearbit: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "clearbit: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "clearbit: read response")
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var company Company
	if err := json.Unmarshal(body, &company); err != nil {
		return nil, eris.Wrap(err, "clearbit: unmarshal response")
	}
	return &company, nil
}
