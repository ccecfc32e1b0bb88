package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Provider is the settlement provider seen through normalized results.
type Provider interface {
	Initiate(ctx context.Context, req InitiateRequest) (*Result, error)
	ChargeAuthorization(ctx context.Context, req AuthorizationChargeRequest) (*Result, error)
	ChargeBank(ctx context.Context, req BankChargeRequest) (*Result, error)
	Verify(ctx context.Context, reference string) (*Result, error)
}

type Config struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
	// FailureThreshold consecutive server-side failures open the breaker.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Client talks to a Paystack-compatible REST API. Every call is bounded by
// Config.Timeout and guarded by a circuit breaker.
type Client struct {
	baseURL    string
	secretKey  string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*rawResponse]
}

type rawResponse struct {
	statusCode int
	body       []byte
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Requests the provider rejected still prove it is reachable.
		IsSuccessful: func(err error) bool {
			var gwErr *Error
			if errors.As(err, &gwErr) && gwErr.StatusCode >= 400 && gwErr.StatusCode < 500 {
				return true
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("gateway: circuit breaker state changed")
		},
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		secretKey: cfg.SecretKey,
		timeout:   cfg.Timeout,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: gobreaker.NewCircuitBreaker[*rawResponse](settings),
	}
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (*Result, error) {
	payload := map[string]any{
		"reference": req.Reference,
		"email":     req.Email,
		"amount":    ToMinorUnits(req.Amount),
		"currency":  req.Currency,
	}
	if req.CallbackURL != "" {
		payload["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		payload["metadata"] = req.Metadata
	}

	env, err := c.do(ctx, "initiate", http.MethodPost, "/transaction/initialize", payload)
	if err != nil {
		return nil, err
	}

	var data initializeData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, &Error{Op: "initiate", Err: fmt.Errorf("malformed data: %w", err)}
	}
	if data.Reference == "" {
		data.Reference = req.Reference
	}
	if data.AuthorizationURL == "" {
		return nil, &Error{Op: "initiate", Err: errors.New("authorization url missing")}
	}

	return &Result{
		Status:           StatusPending,
		Reference:        data.Reference,
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Amount:           req.Amount,
		Currency:         req.Currency,
		Message:          env.Message,
		RawPayload:       env.Data,
	}, nil
}

func (c *Client) ChargeAuthorization(ctx context.Context, req AuthorizationChargeRequest) (*Result, error) {
	payload := map[string]any{
		"reference":          req.Reference,
		"authorization_code": req.AuthorizationCode,
		"email":              req.Email,
		"amount":             ToMinorUnits(req.Amount),
		"currency":           req.Currency,
	}

	env, err := c.do(ctx, "charge_authorization", http.MethodPost, "/transaction/charge_authorization", payload)
	if err != nil {
		return nil, err
	}
	return transactionResult("charge_authorization", env, req.Reference)
}

func (c *Client) ChargeBank(ctx context.Context, req BankChargeRequest) (*Result, error) {
	payload := map[string]any{
		"reference": req.Reference,
		"email":     req.Email,
		"amount":    ToMinorUnits(req.Amount),
		"currency":  req.Currency,
		"bank": map[string]string{
			"code":           req.BankCode,
			"account_number": req.AccountNumber,
		},
	}

	env, err := c.do(ctx, "charge_bank", http.MethodPost, "/charge", payload)
	if err != nil {
		return nil, err
	}
	return transactionResult("charge_bank", env, req.Reference)
}

func (c *Client) Verify(ctx context.Context, reference string) (*Result, error) {
	env, err := c.do(ctx, "verify", http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}
	return transactionResult("verify", env, reference)
}

func transactionResult(op string, env *envelope, fallbackRef string) (*Result, error) {
	var data transactionData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, &Error{Op: op, Err: fmt.Errorf("malformed data: %w", err)}
	}
	if data.Status == "" {
		return nil, &Error{Op: op, Err: errors.New("transaction status missing")}
	}
	if data.Reference == "" {
		data.Reference = fallbackRef
	}

	return &Result{
		Status:     normalizeStatus(data.Status),
		Reference:  data.Reference,
		Amount:     FromMinorUnits(data.Amount),
		Currency:   strings.ToUpper(data.Currency),
		Message:    data.GatewayResponse,
		RawPayload: env.Data,
	}, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any) (*envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
	}

	resp, err := c.breaker.Execute(func() (*rawResponse, error) {
		return c.send(ctx, op, method, path, body)
	})
	if err != nil {
		var gwErr *Error
		if errors.As(err, &gwErr) {
			return nil, gwErr
		}
		// gobreaker.ErrOpenState and ErrTooManyRequests land here.
		return nil, &Error{Op: op, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return nil, &Error{Op: op, StatusCode: resp.statusCode, Err: fmt.Errorf("malformed response: %w", err)}
	}
	if !env.Status {
		return nil, &Error{Op: op, StatusCode: resp.statusCode, Err: errors.New(env.Message)}
	}

	return &env, nil
}

func (c *Client) send(ctx context.Context, op, method, path string, body []byte) (*rawResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &Error{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("op", op).Dur("elapsed", time.Since(start)).Msg("gateway: request failed")
		return nil, &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	log.Debug().Str("op", op).Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("gateway: response received")

	if resp.StatusCode >= http.StatusBadRequest {
		msg := http.StatusText(resp.StatusCode)
		var env envelope
		if json.Unmarshal(respBody, &env) == nil && env.Message != "" {
			msg = env.Message
		}
		return nil, &Error{Op: op, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	return &rawResponse{statusCode: resp.StatusCode, body: respBody}, nil
}
