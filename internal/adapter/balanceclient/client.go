package balanceclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/usecase"
)

// CircuitBreaker guards calls to the balance reader.
type CircuitBreaker interface {
	Execute(fn func() error) error
}

// Client reads balances from the balance reader's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	breaker CircuitBreaker
}

// New creates a client for the balance reader at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// WithBreaker routes every lookup through cb.
func (c *Client) WithBreaker(cb CircuitBreaker) *Client {
	c.breaker = cb
	return c
}

type balanceResponse struct {
	Balance *int64 `json:"balance"`
	Error   string `json:"error"`
}

// GetBalance implements usecase.BalanceReader. A 4xx answer wraps
// domain.ErrBalanceRejected (and domain.ErrNotAuthorized for 401/403) and does
// not count against the breaker; any other failure wraps domain.ErrBalanceUnavailable.
func (c *Client) GetBalance(ctx context.Context, accountID string) (int64, error) {
	var (
		balance  int64
		rejected error
	)
	call := func() error {
		var err error
		balance, err = c.fetch(ctx, accountID)
		var re *rejectedError
		if errors.As(err, &re) {
			rejected = re
			return nil
		}
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return 0, fmt.Errorf("%w: account %s: %w", domain.ErrBalanceUnavailable, accountID, err)
	}
	if rejected != nil {
		return 0, fmt.Errorf("account %s: %w", accountID, rejected)
	}

	return balance, nil
}

// rejectedError is a client error from the balance reader. Retrying it cannot succeed.
type rejectedError struct {
	status int
	msg    string
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", domain.ErrBalanceRejected, e.status, e.msg)
}

func (e *rejectedError) Is(target error) bool {
	switch target {
	case domain.ErrBalanceRejected:
		return true
	case domain.ErrNotAuthorized:
		return e.status == http.StatusUnauthorized || e.status == http.StatusForbidden
	default:
		return false
	}
}

func (c *Client) fetch(ctx context.Context, accountID string) (int64, error) {
	endpoint := c.baseURL + "/get_balance?" + url.Values{"account_id": {accountID}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if token := usecase.BearerTokenFromContext(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, err
	}

	var payload balanceResponse
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		_ = json.Unmarshal(body, &payload)
		return 0, &rejectedError{status: resp.StatusCode, msg: payload.Error}
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("status %d: decode body: %w", resp.StatusCode, err)
	}

	// The reader answers 201 in legacy mode.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return 0, fmt.Errorf("status %d: %s", resp.StatusCode, payload.Error)
	}
	if payload.Balance == nil {
		return 0, fmt.Errorf("status %d: missing balance", resp.StatusCode)
	}

	return *payload.Balance, nil
}
