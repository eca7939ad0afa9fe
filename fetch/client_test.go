package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawsitivecheck/querycache/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Options{
		BaseURL: srv.URL + "/",
		Header:  http.Header{"X-Service-Token": {"secret"}},
	})
	require.NoError(t, err)
	return c
}

func TestNewClientRejectsBadBaseURL(t *testing.T) {
	_, err := NewClient(Options{BaseURL: "localhost:5000"})
	assert.Error(t, err)
}

func TestGetBuildsURLFromKey(t *testing.T) {
	var gotPath, gotQuery, gotToken string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		gotToken = r.Header.Get("X-Service-Token")
		w.Write([]byte(`{"id":7}`))
	})

	body, err := c.Get(context.Background(), types.KeyOf("/api/products", "7", "reviews?limit=5"))
	require.NoError(t, err)

	assert.JSONEq(t, `{"id":7}`, string(body))
	assert.Equal(t, "/api/products/7/reviews", gotPath)
	assert.Equal(t, "limit=5", gotQuery)
	assert.Equal(t, "secret", gotToken)
}

func TestGetEmptyBodyIsNull(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	body, err := c.Get(context.Background(), types.KeyOf("/api/recalls"))
	require.NoError(t, err)
	assert.Equal(t, "null", string(body))
}

func TestGetRejectsNonJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>"))
	})

	_, err := c.Get(context.Background(), types.KeyOf("/api/recalls"))
	assert.Error(t, err)
}

func TestGetStatusErrors(t *testing.T) {
	status := http.StatusUnauthorized
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(`{"message":"nope"}`))
	})
	key := types.KeyOf("/api/users", "me")

	_, err := c.Get(context.Background(), key)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, Retryable(err))

	status = http.StatusNotFound
	_, err = c.Get(context.Background(), key)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Contains(t, se.Error(), "nope")
	assert.False(t, Retryable(err))

	status = http.StatusBadGateway
	_, err = c.Get(context.Background(), key)
	assert.True(t, Retryable(err))
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(&StatusError{StatusCode: http.StatusBadRequest}))
	assert.True(t, Retryable(&StatusError{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, Retryable(errors.New("connection refused")))
}

func TestFetchReturnsRawMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[1,2]`))
	})

	v, err := c.Fetch(context.Background(), types.KeyOf("/api/products"))
	require.NoError(t, err)
	assert.Equal(t, `[1,2]`, string(v.(json.RawMessage)))
}

func TestForwardRelaysAnyStatus(t *testing.T) {
	var gotMethod, gotBody, gotCookie, gotToken, gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotQuery = r.URL.RawQuery
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		gotCookie = r.Header.Get("Cookie")
		gotToken = r.Header.Get("X-Service-Token")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"invalid"}`))
	})

	header := http.Header{
		"Cookie":     {"sid=1"},
		"Connection": {"keep-alive"},
	}
	resp, err := c.Forward(context.Background(), http.MethodPatch, "api/products/7?notify=1", header, strings.NewReader(`{"name":"x"}`))
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Upstream"))
	assert.JSONEq(t, `{"error":"invalid"}`, string(resp.Body))
	assert.Equal(t, http.MethodPatch, gotMethod)
	assert.Equal(t, "notify=1", gotQuery)
	assert.Equal(t, `{"name":"x"}`, gotBody)
	assert.Equal(t, "sid=1", gotCookie)
	assert.Equal(t, "secret", gotToken)
}
