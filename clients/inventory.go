package clients

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
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	apperrors "byteme/errors"
	"byteme/models"
)

const inventoryService = "inventory"

// InventoryClient talks to the OutSystems component API through a circuit
// breaker.
type InventoryClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

var DefaultBreakerSettings = BreakerSettings{
	ConsecutiveFailures: 5,
	OpenTimeout:         30 * time.Second,
}

func NewInventoryClient(baseURL string, timeout time.Duration, bs BreakerSettings, logger *zap.Logger) *InventoryClient {
	c := &InventoryClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        inventoryService,
		MaxRequests: 1,
		Timeout:     bs.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.ConsecutiveFailures
		},
		// 404 表示零件不存在，不算服务故障
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			_, notFound := apperrors.IsNotFoundError(err)
			return notFound
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c
}

// GetComponent fetches one part. An unknown id is a NotFoundError.
func (c *InventoryClient) GetComponent(ctx context.Context, id string) (*models.Part, error) {
	q := url.Values{"ComponentId": {id}}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		body, err := c.call(ctx, http.MethodGet, "/GetComponent?"+q.Encode())
		if err != nil {
			return nil, err
		}
		return decodePart(body, id)
	})
	if err != nil {
		return nil, c.wrap(err)
	}
	return result.(*models.Part), nil
}

// UpdateStock changes a part's stock by delta, which may be negative.
func (c *InventoryClient) UpdateStock(ctx context.Context, id string, delta int) error {
	q := url.Values{
		"ComponentId":    {id},
		"QuantityChange": {strconv.Itoa(delta)},
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return c.call(ctx, http.MethodPost, "/UpdateComponentStock?"+q.Encode())
	})
	if err != nil {
		return c.wrap(err)
	}
	return nil
}

func (c *InventoryClient) State() gobreaker.State {
	return c.breaker.State()
}

// Ready fails while the breaker is open.
func (c *InventoryClient) Ready() error {
	if c.breaker.State() == gobreaker.StateOpen {
		return apperrors.NewUpstreamError(inventoryService, http.StatusServiceUnavailable, "circuit breaker open", gobreaker.ErrOpenState)
	}
	return nil
}

func (c *InventoryClient) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.NewUpstreamError(inventoryService, http.StatusServiceUnavailable, "Inventory service unavailable", err)
	}
	return err
}

func (c *InventoryClient) call(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building inventory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.NewUpstreamError(inventoryService, http.StatusServiceUnavailable, "Inventory service unavailable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperrors.NewUpstreamError(inventoryService, http.StatusServiceUnavailable, "reading inventory response", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.NewNotFoundError("Part not found")
	case resp.StatusCode >= 300:
		return nil, apperrors.NewUpstreamError(inventoryService, http.StatusServiceUnavailable,
			fmt.Sprintf("inventory returned %d", resp.StatusCode), nil)
	}
	return body, nil
}

// decodePart accepts the part either bare or wrapped in "data".
func decodePart(body []byte, id string) (*models.Part, error) {
	var wrapped struct {
		Code *int            `json:"code"`
		Data json.RawMessage `json:"data"`
	}
	raw := body
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Data) > 0 {
		if wrapped.Code != nil && *wrapped.Code == http.StatusNotFound {
			return nil, apperrors.NewNotFoundError("Part not found")
		}
		raw = wrapped.Data
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, apperrors.NewNotFoundError("Part not found")
	}

	var part models.Part
	if err := json.Unmarshal(raw, &part); err != nil {
		return nil, apperrors.NewUpstreamError(inventoryService, http.StatusServiceUnavailable, "decoding part", err)
	}
	if part.ID == "" {
		part.ID = models.PartID(id)
	}
	return &part, nil
}
