// Package pricing quotes manufacturing cost for an order specification via
// the external pricing engine. Quoting is advisory at submission time; only
// the administrator-set price is ever payable.
package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Quote is a price estimate for a specification.
type Quote struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Engine produces quotes for manufacturing specifications.
type Engine interface {
	Quote(ctx context.Context, specification string) (*Quote, error)
}

// HTTPEngine calls a remote pricing service over HTTP.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPEngine creates a pricing engine client.
func NewHTTPEngine(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPEngine {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPEngine{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type quoteRequest struct {
	Specification json.RawMessage `json:"specification"`
}

func (e *HTTPEngine) Quote(ctx context.Context, specification string) (*Quote, error) {
	body, err := json.Marshal(quoteRequest{Specification: json.RawMessage(specification)})
	if err != nil {
		return nil, fmt.Errorf("encode quote request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/quote", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build quote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call pricing engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("pricing engine returned %d: %s", resp.StatusCode, string(data))
	}

	var quote Quote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, fmt.Errorf("decode quote response: %w", err)
	}
	if quote.Amount < 0 {
		return nil, fmt.Errorf("pricing engine returned negative amount %f", quote.Amount)
	}
	return &quote, nil
}

// StaticEngine returns a fixed quote, for development and tests.
type StaticEngine struct {
	Amount   float64
	Currency string
}

func (e *StaticEngine) Quote(ctx context.Context, specification string) (*Quote, error) {
	return &Quote{Amount: e.Amount, Currency: e.Currency}, nil
}
