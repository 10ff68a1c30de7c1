package provider

import (
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

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/jask/ledgersync/internal/database/repository"
	"github.com/jask/ledgersync/internal/logger"
)

// TokenSourceFunc yields the credential of a provider connection.
type TokenSourceFunc func(connectionID string) oauth2.TokenSource

// HTTPConfig configures HTTPClient.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
	// RequestsPerSecond throttles outbound calls. Zero disables throttling.
	RequestsPerSecond float64
	Burst             int
	// HTTPClient is an optional custom client (for testing).
	HTTPClient *http.Client
}

// HTTPClient is a JSON-over-HTTP Client.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	tokens  TokenSourceFunc
	limiter *rate.Limiter
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(cfg HTTPConfig, tokens TokenSourceFunc) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("provider base url required")
	}
	if tokens == nil {
		return nil, errors.New("provider token source required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    hc,
		tokens:  tokens,
		limiter: limiter,
	}, nil
}

type balanceResponse struct {
	Current  string `json:"current"`
	Currency string `json:"currency"`
}

type transactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func (c *HTTPClient) FetchBalance(ctx context.Context, acct repository.Account) (Balance, error) {
	path := fmt.Sprintf("/accounts/%s/balance", url.PathEscape(acct.ConnectionID))
	var resp balanceResponse
	if err := c.get(ctx, acct.ConnectionID, path, &resp); err != nil {
		return Balance{}, err
	}
	current, err := decimal.NewFromString(strings.TrimSpace(resp.Current))
	if err != nil {
		return Balance{}, fmt.Errorf("decode balance: %w", err)
	}
	return Balance{Current: current, Currency: strings.ToUpper(resp.Currency)}, nil
}

func (c *HTTPClient) FetchTransactions(ctx context.Context, acct repository.Account, from, to *time.Time) ([]Transaction, error) {
	path := fmt.Sprintf("/accounts/%s/transactions", url.PathEscape(acct.ConnectionID))
	params := url.Values{}
	if from != nil {
		params.Set("from", from.UTC().Format(time.DateOnly))
	}
	if to != nil {
		params.Set("to", to.UTC().Format(time.DateOnly))
	}
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp transactionsResponse
	if err := c.get(ctx, acct.ConnectionID, path, &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

func (c *HTTPClient) get(ctx context.Context, connectionID, path string, out any) error {
	tok, err := c.tokens(connectionID).Token()
	if err != nil {
		return &Error{StatusCode: http.StatusUnauthorized, Class: ClassExpiredCredential, Message: err.Error()}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Class: ClassServerError, Message: err.Error()}
	}
	defer resp.Body.Close()
	logger.FromContext(ctx).Debug("provider call", "path", path, "status", resp.StatusCode, "took", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return parseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(body))
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && (er.Error != "" || er.Description != "") {
		msg = strings.TrimSpace(er.Error + ": " + er.Description)
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	pe := NewError(resp.StatusCode, msg)
	if resp.StatusCode == http.StatusTooManyRequests {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			pe.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return pe
}
