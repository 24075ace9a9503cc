package pdl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrichPerson(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/person/enrich", r.URL.Path)
		assert.Equal(t, "linkedin.com/in/jane-doe", r.URL.Query().Get("profile"))
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": 200,
			"likelihood": 9,
			"data": {
				"full_name": "Jane Doe",
				"job_title": "VP Engineering",
				"job_company_name": "Acme",
				"location_name": "Austin, Texas"
			}
		}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	person, err := c.EnrichPerson(context.Background(), EnrichParams{Profile: "linkedin.com/in/jane-doe"})
	require.NoError(t, err)

	assert.Equal(t, "Jane Doe", person.FullName)
	assert.Equal(t, "VP Engineering", person.JobTitle)
	assert.Equal(t, "Acme", person.JobCompanyName)
}

func TestEnrichPersonByEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "jane@acme.com", r.URL.Query().Get("email"))
		_, _ = w.Write([]byte(`{"status": 200, "data": {"full_name": "Jane Doe"}}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	person, err := c.EnrichPerson(context.Background(), EnrichParams{Email: "jane@acme.com"})
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", person.FullName)
}

func TestEnrichPersonRequiresParams(t *testing.T) {
	c := NewClient("test-key")
	_, err := c.EnrichPerson(context.Background(), EnrichParams{})
	assert.ErrorContains(t, err, "profile or email")
}

func TestEnrichPersonNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":404}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.EnrichPerson(context.Background(), EnrichParams{Email: "nobody@acme.com"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnrichPersonEmptyDataIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": 200, "likelihood": 0}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.EnrichPerson(context.Background(), EnrichParams{Email: "jane@acme.com"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnrichPersonAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "server error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.EnrichPerson(context.Background(), EnrichParams{Email: "jane@acme.com"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}
