package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newGateway(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(NewHTTPTransport(srv.URL, time.Second), time.Second, zap.NewNop(), nil)
}

func TestHTTPTransport_Submit(t *testing.T) {
	c := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/entries", r.URL.Path)
		assert.Equal(t, "k1", r.Header.Get("Idempotency-Key"))

		var body submitRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "k1", body.Key)
		assert.JSONEq(t, `{"amount":5}`, string(body.Payload))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"reference":"ref-1","block_height":42}`))
	})

	res, err := c.Submit(context.Background(), "k1", []byte(`{"amount":5}`))
	require.NoError(t, err)
	assert.Equal(t, SubmissionResult{Reference: "ref-1", BlockHeight: 42}, res)
}

func TestHTTPTransport_LookupNotFound(t *testing.T) {
	c := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/entries/k2", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Lookup(context.Background(), "k2")
	assert.True(t, IsNotFound(err))
}

func TestHTTPTransport_StatusClassification(t *testing.T) {
	cases := []struct {
		code      int
		transient bool
		permanent bool
	}{
		{http.StatusInternalServerError, true, false},
		{http.StatusServiceUnavailable, true, false},
		{http.StatusTooManyRequests, true, false},
		{http.StatusConflict, true, false},
		{http.StatusBadRequest, false, true},
		{http.StatusForbidden, false, true},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.code), func(t *testing.T) {
			c := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
			})
			_, err := c.Submit(context.Background(), "k", []byte(`{}`))
			require.Error(t, err)
			assert.Equal(t, tc.transient, IsTransient(err))
			assert.Equal(t, tc.permanent, IsPermanent(err))
		})
	}
}

func TestHTTPTransport_AccountStatus(t *testing.T) {
	c := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/accounts/S1":
			_, _ = w.Write([]byte(`{"shopkeeper_id":"S1","registered":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	assert.NoError(t, c.EnsureRegistered(context.Background(), "S1"))
	assert.True(t, IsPermanent(c.EnsureRegistered(context.Background(), "S2")))
}
