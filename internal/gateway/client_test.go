package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:        baseURL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		Timeout:        2 * time.Second,
	})
}

func authOK(w http.ResponseWriter) {
	_ = json.NewEncoder(w).Encode(map[string]string{
		"token":      "tok-1",
		"expiryDate": time.Now().Add(5 * time.Minute).Format(time.RFC3339),
		"status":     "200",
	})
}

func TestAuthenticateRejectedCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"token":   "",
			"status":  "401",
			"message": "invalid consumer key",
		})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, _, err := client.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrAuth)
}

func TestAuthenticateUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // closed before use

	client := newTestClient(srv.URL)
	_, _, err := client.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestTokenCacheReuse(t *testing.T) {
	var authCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/Auth/RequestToken":
			atomic.AddInt32(&authCalls, 1)
			authOK(w)
		case "/api/Transactions/GetTransactionStatus":
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]string{
				"payment_status_description": "COMPLETED",
				"payment_method":             "Visa",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	ctx := context.Background()

	status, method, err := client.QueryStatus(ctx, "trk-1")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", status)
	assert.Equal(t, "Visa", method)

	_, _, err = client.QueryStatus(ctx, "trk-1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&authCalls), "second call should reuse cached token")
}

func TestRetryOnceOn401(t *testing.T) {
	var authCalls, statusCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/Auth/RequestToken":
			atomic.AddInt32(&authCalls, 1)
			authOK(w)
		case "/api/Transactions/GetTransactionStatus":
			if atomic.AddInt32(&statusCalls, 1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{
				"payment_status_description": "FAILED",
			})
		}
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	status, _, err := client.QueryStatus(context.Background(), "trk-1")
	require.NoError(t, err)
	assert.Equal(t, "FAILED", status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&authCalls), "401 triggers exactly one re-auth")
	assert.Equal(t, int32(2), atomic.LoadInt32(&statusCalls))
}

func TestPersistent401FailsWithAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/Auth/RequestToken" {
			authOK(w)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, _, err := client.QueryStatus(context.Background(), "trk-1")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestSubmitOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/Auth/RequestToken":
			authOK(w)
		case "/api/Transactions/SubmitOrderRequest":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "UNT-100", body["id"])
			assert.Equal(t, "KES", body["currency"])
			assert.InDelta(t, 3000.0, body["amount"], 0.001)

			billing, ok := body["billing_address"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "buyer@example.com", billing["email_address"])

			_ = json.NewEncoder(w).Encode(map[string]string{
				"order_tracking_id":  "trk-42",
				"merchant_reference": "UNT-100",
				"redirect_url":       "https://pay.example.com/iframe/trk-42",
				"status":             "200",
			})
		}
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	trackingID, redirectURL, err := client.SubmitOrder(context.Background(), OrderRequest{
		ReferenceNumber: "UNT-100",
		Currency:        "KES",
		Amount:          300000,
		Description:     "2x Untamed Festival",
		CallbackURL:     "http://localhost:8080/payment-confirmation",
		NotificationID:  "ipn-1",
		Email:           "buyer@example.com",
		FirstName:       "Jane",
		LastName:        "Doe",
	})
	require.NoError(t, err)
	assert.Equal(t, "trk-42", trackingID)
	assert.Equal(t, "https://pay.example.com/iframe/trk-42", redirectURL)
}

func TestSubmitOrderRejectedWithoutRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/Auth/RequestToken" {
			authOK(w)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "500",
			"error":  map[string]string{"message": "invalid notification id"},
		})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, _, err := client.SubmitOrder(context.Background(), OrderRequest{ReferenceNumber: "UNT-100"})
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, errors.Is(err, ErrUnreachable))
}

func TestQueryStatusUnreachableOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/Auth/RequestToken" {
			authOK(w)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, _, err := client.QueryStatus(context.Background(), "trk-1")
	assert.ErrorIs(t, err, ErrUnreachable)
}
