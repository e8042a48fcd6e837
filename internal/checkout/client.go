package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	entdomain "github.com/railzwaylabs/insightpass/internal/entitlement/domain"
	paymentdomain "github.com/railzwaylabs/insightpass/internal/payment/domain"
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	StatusCode int
	Message    string
	Field      string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("insightpass api: %d %s", e.StatusCode, e.Message)
}

// Client talks to the service over HTTP. It satisfies the issuer, verifier
// and access checker the orchestrator needs.
type Client struct {
	baseURL string
	http    *http.Client
}

var (
	_ paymentdomain.IntentIssuer = (*Client)(nil)
	_ paymentdomain.Verifier     = (*Client)(nil)
	_ AccessChecker              = (*Client)(nil)
)

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) CreateIntent(ctx context.Context, req paymentdomain.IntentRequest) (*paymentdomain.IntentResponse, error) {
	headers := map[string]string{}
	if req.IdempotencyKey != "" {
		headers["Idempotency-Key"] = req.IdempotencyKey
	}
	var out paymentdomain.IntentResponse
	if err := c.do(ctx, http.MethodPost, "/api/payments/intents", req, headers, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Verify(ctx context.Context, req paymentdomain.VerifyRequest) (*paymentdomain.VerifyResult, error) {
	var out paymentdomain.VerifyResult
	if err := c.do(ctx, http.MethodPost, "/api/payments/verify", req, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) HasAccess(ctx context.Context, owner entdomain.Owner, chatID string) (bool, error) {
	q := url.Values{}
	switch owner.Kind {
	case entdomain.OwnerUser:
		q.Set("userId", owner.ID)
	default:
		q.Set("deviceId", owner.ID)
	}
	if chatID != "" {
		q.Set("chatId", chatID)
	}
	var out struct {
		HasAccess bool `json:"hasAccess"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/access?"+q.Encode(), nil, nil, &out); err != nil {
		return false, err
	}
	return out.HasAccess, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response, raw []byte) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
		Field string `json:"field"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Field = body.Field
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}

// IsRateLimited reports whether err is a 429 from the service.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}
