package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/gateway"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *gateway.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return gateway.NewClient(gateway.Config{
		BaseURL:          srv.URL,
		SecretKey:        "sk_test_secret",
		Timeout:          timeout,
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_Initiate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_secret", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(10000), body["amount"])
		assert.Equal(t, "PAY_1", body["reference"])

		writeJSON(w, http.StatusOK, map[string]any{
			"status":  true,
			"message": "Authorization URL created",
			"data": map[string]any{
				"authorization_url": "https://checkout.example/abc",
				"access_code":       "abc",
				"reference":         "PAY_1",
			},
		})
	}, time.Second)

	res, err := client.Initiate(context.Background(), gateway.InitiateRequest{
		Reference: "PAY_1",
		Email:     "buyer@example.com",
		Amount:    decimal.RequireFromString("100.00"),
		Currency:  "NGN",
	})
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusPending, res.Status)
	assert.Equal(t, "PAY_1", res.Reference)
	assert.Equal(t, "https://checkout.example/abc", res.AuthorizationURL)
	assert.NotEmpty(t, res.RawPayload)
}

func TestClient_ChargeBank_Pending(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/charge", r.URL.Path)

		var body struct {
			Bank struct {
				Code          string `json:"code"`
				AccountNumber string `json:"account_number"`
			} `json:"bank"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "057", body.Bank.Code)
		assert.Equal(t, "0000000000", body.Bank.AccountNumber)

		writeJSON(w, http.StatusOK, map[string]any{
			"status":  true,
			"message": "Charge attempted",
			"data":    map[string]any{"status": "send_otp", "reference": "PAY_2", "amount": 10000, "currency": "ngn"},
		})
	}, time.Second)

	res, err := client.ChargeBank(context.Background(), gateway.BankChargeRequest{
		Reference:     "PAY_2",
		Amount:        decimal.NewFromInt(100),
		Currency:      "NGN",
		BankCode:      "057",
		AccountNumber: "0000000000",
	})
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusPending, res.Status)
	assert.False(t, res.Status.Definitive())
	assert.Equal(t, "NGN", res.Currency)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(100)))
}

func TestClient_Verify(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		wantStatus gateway.Status
	}{
		{name: "success", status: "success", wantStatus: gateway.StatusSuccess},
		{name: "abandoned", status: "abandoned", wantStatus: gateway.StatusFailed},
		{name: "ongoing", status: "ongoing", wantStatus: gateway.StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/transaction/verify/PAY_3", r.URL.Path)
				writeJSON(w, http.StatusOK, map[string]any{
					"status": true,
					"data":   map[string]any{"status": tt.status, "reference": "PAY_3", "amount": 5998, "currency": "USD", "gateway_response": "Approved"},
				})
			}, time.Second)

			res, err := client.Verify(context.Background(), "PAY_3")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, "59.98", res.Amount.StringFixed(2))
			assert.Equal(t, "Approved", res.Message)
		})
	}
}

func TestClient_Errors(t *testing.T) {
	t.Run("provider rejects request", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": false, "message": "Invalid authorization code"})
		}, time.Second)

		_, err := client.ChargeAuthorization(context.Background(), gateway.AuthorizationChargeRequest{Reference: "PAY_4", Amount: decimal.NewFromInt(1)})
		require.ErrorIs(t, err, gateway.ErrGateway)

		var gwErr *gateway.Error
		require.True(t, errors.As(err, &gwErr))
		assert.Equal(t, http.StatusBadRequest, gwErr.StatusCode)
		assert.Contains(t, gwErr.Error(), "Invalid authorization code")
	})

	t.Run("malformed response", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("<html>oops</html>"))
		}, time.Second)

		_, err := client.Verify(context.Background(), "PAY_5")
		require.ErrorIs(t, err, gateway.ErrGateway)
	})

	t.Run("timeout", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}, 50*time.Millisecond)

		_, err := client.Verify(context.Background(), "PAY_6")
		require.ErrorIs(t, err, gateway.ErrGateway)
	})
}

func TestClient_BreakerOpensOnServerFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadGateway, map[string]any{"status": false, "message": "upstream down"})
	}, time.Second)

	for i := 0; i < 3; i++ {
		_, err := client.Verify(context.Background(), "PAY_7")
		require.ErrorIs(t, err, gateway.ErrGateway)
	}

	assert.Equal(t, int32(2), calls.Load(), "third call must be short-circuited")
}
