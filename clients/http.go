package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	apperrors "byteme/errors"
)

// envelope is the {code, message, data} body every service answers with.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Invoker calls another service's JSON API.
type Invoker struct {
	service string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewInvoker(service, baseURL string, timeout time.Duration, logger *zap.Logger) *Invoker {
	return &Invoker{
		service: service,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Do sends body as JSON and decodes the response's data into out. A 404
// becomes a NotFoundError carrying the remote message; other failures
// become UpstreamErrors.
func (i *Invoker) Do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", i.service, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, i.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building %s request: %w", i.service, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := i.client.Do(req)
	if err != nil {
		i.logger.Warn("service call failed",
			zap.String("service", i.service),
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return apperrors.NewUpstreamError(i.service, http.StatusBadGateway, i.service+" service unavailable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.NewUpstreamError(i.service, http.StatusBadGateway, "reading response", err)
	}

	i.logger.Debug("service call",
		zap.String("service", i.service),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	var env envelope
	_ = json.Unmarshal(raw, &env)

	if resp.StatusCode == http.StatusNotFound {
		msg := env.Message
		if msg == "" {
			msg = "not found"
		}
		return apperrors.NewNotFoundError(msg)
	}
	if resp.StatusCode >= 300 {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return apperrors.NewUpstreamError(i.service, resp.StatusCode, msg, nil)
	}

	if out == nil {
		return nil
	}
	if len(env.Data) == 0 {
		return apperrors.NewUpstreamError(i.service, http.StatusBadGateway, "response has no data", nil)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apperrors.NewUpstreamError(i.service, http.StatusBadGateway, "decoding response", err)
	}
	return nil
}
