package clearbit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindCompany(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/companies/find", r.URL.Path)
		assert.Equal(t, "acme.com", r.URL.Query().Get("domain"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "c-1",
			"name": "Acme",
			"domain": "acme.com",
			"foundedYear": 1999,
			"category": {"industry": "Software"},
			"metrics": {"employees": 500, "estimatedAnnualRevenue": "$10M-$50M"},
			"geo": {"city": "Austin", "state": "TX", "country": "US"}
		}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	company, err := c.FindCompany(context.Background(), "acme.com")
	require.NoError(t, err)

	assert.Equal(t, "Acme", company.Name)
	assert.Equal(t, 1999, company.FoundedYear)
	assert.Equal(t, "Software", company.Category.Industry)
	assert.Equal(t, 500, company.Metrics.Employees)
	assert.Equal(t, "Austin", company.Geo.City)
}

func TestFindCompanyNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"unknown_record"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.FindCompany(context.Background(), "unknown.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindCompanyAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.FindCompany(context.Background(), "acme.com")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "429")
}
