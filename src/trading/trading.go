package trading

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

// ITrading is the request/response boundary to the exchange gateway.
// Asynchronous fills and cancels arrive out of band through the user feed.
type ITrading interface {
	CreateOrder(ctx context.Context, order CreateOrderRequest) (*OrderResponse, error)
	CancelOrder(ctx context.Context, params CancelOrderRequest) (*CancelResponse, error)
	GetOrder(ctx context.Context, orderID string) (*OrderResponse, error)
}

// RateLimiter gates outbound exchange calls. Every HTTP attempt, retries
// included, counts against the call budget.
type RateLimiter interface {
	Acquire(ctx context.Context) error
}

type CreateOrderRequest struct {
	TokenID  string  `json:"tokenId"`
	Side     string  `json:"side"`
	Price    float64 `json:"price"`
	Size     float64 `json:"size"`
	ClientID string  `json:"clientId"`
	Type     string  `json:"type,omitempty"` // GTC by default
}

type CancelOrderRequest struct {
	OrderID string `json:"orderId"`
	TokenID string `json:"tokenId"`
}

type OrderResponseData struct {
	OrderID string  `json:"orderId" mapstructure:"orderId"`
	Status  string  `json:"status" mapstructure:"status"`
	Price   float64 `json:"price" mapstructure:"price"`
	Filled  float64 `json:"filled" mapstructure:"filled"`
}

type OrderResponse struct {
	Status string            `json:"status" mapstructure:"status"`
	Data   OrderResponseData `json:"data" mapstructure:"data"`
}

type CancelResponseData struct {
	Canceled    []string          `json:"canceled" mapstructure:"canceled"`
	NotCanceled map[string]string `json:"notCanceled" mapstructure:"notCanceled"`
}

type CancelResponse struct {
	Status string             `json:"status" mapstructure:"status"`
	Data   CancelResponseData `json:"data" mapstructure:"data"`
}

// RejectionError is a terminal exchange rejection (bad tick size,
// insufficient balance, ...). Retrying the same parameters is pointless.
type RejectionError struct {
	Code   int
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("exchange rejected request (%d): %s", e.Code, e.Reason)
}

// ErrRetriesExhausted wraps the last transient error after maxAttempts.
var ErrRetriesExhausted = errors.New("exchange request retries exhausted")

type Trading struct {
	BaseURL     string
	MaxAttempts int
	Backoff     time.Duration
	Limiter     RateLimiter

	client *http.Client
	log    *zap.Logger
}

func InitTrading(limiter RateLimiter) ITrading {
	log, _ := zap.NewProduction()
	if os.Getenv("LOCAL") == "true" {
		log, _ = zap.NewDevelopment()
	}
	return &Trading{
		BaseURL:     "http://" + os.Getenv("EXCHANGESERVICE"),
		MaxAttempts: 5,
		Backoff:     500 * time.Millisecond,
		Limiter:     limiter,
		client:      &http.Client{Timeout: 10 * time.Second},
		log:         log.With(zap.String("logger", "trading")),
	}
}

func (t *Trading) CreateOrder(ctx context.Context, order CreateOrderRequest) (*OrderResponse, error) {
	if order.Type == "" {
		order.Type = "GTC"
	}
	raw, err := t.request(ctx, "createOrder", order)
	if err != nil {
		return nil, err
	}
	var response OrderResponse
	if err := mapstructure.WeakDecode(raw, &response); err != nil {
		return nil, fmt.Errorf("decoding createOrder response: %w", err)
	}
	if response.Data.OrderID == "" {
		return nil, &RejectionError{Reason: "no order id in response"}
	}
	return &response, nil
}

func (t *Trading) CancelOrder(ctx context.Context, params CancelOrderRequest) (*CancelResponse, error) {
	raw, err := t.request(ctx, "cancelOrder", params)
	if err != nil {
		return nil, err
	}
	var response CancelResponse
	if err := mapstructure.WeakDecode(raw, &response); err != nil {
		return nil, fmt.Errorf("decoding cancelOrder response: %w", err)
	}
	// An order that is already gone counts as a successful cancel.
	if reason, ok := response.Data.NotCanceled[params.OrderID]; ok {
		if reason == "order already canceled" {
			response.Data.Canceled = append(response.Data.Canceled, params.OrderID)
			delete(response.Data.NotCanceled, params.OrderID)
		} else {
			return &response, &RejectionError{Reason: reason}
		}
	}
	return &response, nil
}

func (t *Trading) GetOrder(ctx context.Context, orderID string) (*OrderResponse, error) {
	raw, err := t.request(ctx, "getOrder", map[string]string{"orderId": orderID})
	if err != nil {
		return nil, err
	}
	var response OrderResponse
	if err := mapstructure.WeakDecode(raw, &response); err != nil {
		return nil, fmt.Errorf("decoding getOrder response: %w", err)
	}
	return &response, nil
}

// request POSTs to the gateway, retrying transient failures with a linear
// backoff. 4xx responses other than 429 are terminal rejections. Every
// attempt, the first included, acquires the rate limiter before it hits the
// wire: a retry is a fresh API call and counts against the same budget.
func (t *Trading) request(ctx context.Context, method string, data interface{}) (interface{}, error) {
	url := t.BaseURL + "/" + method
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= t.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepWithContext(ctx, t.Backoff*time.Duration(attempt-1)); err != nil {
				return nil, err
			}
		}
		if t.Limiter != nil {
			if err := t.Limiter.Acquire(ctx); err != nil {
				return nil, err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := t.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			t.log.Warn("exchange request failed",
				zap.String("method", method),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}
		payload, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("exchange returned %d: %s", resp.StatusCode, string(payload))
			t.log.Warn("transient exchange error",
				zap.String("method", method),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt),
			)
			continue
		case resp.StatusCode >= 400:
			return nil, &RejectionError{Code: resp.StatusCode, Reason: string(payload)}
		}
		var parsed interface{}
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return nil, fmt.Errorf("parsing exchange response: %w", err)
		}
		return parsed, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
