// Package pdl wraps the People Data Labs person enrichment API.
package pdl

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

const defaultBaseURL = "https://api.peopledatalabs.com/v5"

// ErrNotFound is returned when no person matches the lookup.
var ErrNotFound = eris.New("pdl: person not found")

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pdl: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client performs person lookups against the People Data Labs API.
type Client interface {
	EnrichPerson(ctx context.Context, params EnrichParams) (*Person, error)
}

// EnrichParams identifies the person to enrich. At least one of Profile or
// Email must be set.
type EnrichParams struct {
	Profile string // LinkedIn profile URL or slug
	Email   string
}

// Person is the subset of the enrichment response the engine uses.
type Person struct {
	FullName       string `json:"full_name"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	JobTitle       string `json:"job_title"`
	JobCompanyName string `json:"job_company_name"`
	LocationName   string `json:"location_name"`
	WorkEmail      string `json:"work_email"`
	LinkedInURL    string `json:"linkedin_url"`
	Industry       string `json:"industry"`
}

type enrichResponse struct {
	Status     int     `json:"status"`
	Likelihood int     `json:"likelihood"`
	Data       *Person `json:"data"`
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

// NewClient creates a People Data Labs API client.
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

func (c *httpClient) EnrichPerson(ctx context.Context, params EnrichParams) (*Person, error) {
	if params.Profile == "" && params.Email == "" {
		return nil, eris.New("pdl: profile or email is required")
	}

	q := url.Values{}
	if params.Profile != "" {
		q.Set("profile", params.Profile)
	}
	if params.Email != "" {
		q.Set("email", params.Email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/person/enrich?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "pdl: create request")
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "pdl: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "pdl: read response")
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result enrichResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "pdl: unmarshal response")
	}
	if result.Data == nil {
		return nil, ErrNotFound
	}
	return result.Data, nil
}
