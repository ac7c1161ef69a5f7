package trading

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTrading(url string) *Trading {
	return &Trading{
		BaseURL:     url,
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		client:      &http.Client{Timeout: time.Second},
		log:         zap.NewNop(),
	}
}

func TestCreateOrderDecodesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/createOrder", r.URL.Path)
		var req CreateOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "GTC", req.Type, "order type defaults to GTC")
		assert.Equal(t, 0.41, req.Price)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "OK",
			"data":   map[string]interface{}{"orderId": "ex-1", "status": "live", "price": 0.41},
		})
	}))
	defer server.Close()

	trading := newTestTrading(server.URL)
	response, err := trading.CreateOrder(context.Background(), CreateOrderRequest{TokenID: "tok-1", Side: "BUY", Price: 0.41, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, "ex-1", response.Data.OrderID)
	assert.Equal(t, 0.41, response.Data.Price)
}

func TestCreateOrderRetriesTransientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "OK",
			"data":   map[string]interface{}{"orderId": "ex-1"},
		})
	}))
	defer server.Close()

	trading := newTestTrading(server.URL)
	response, err := trading.CreateOrder(context.Background(), CreateOrderRequest{TokenID: "tok-1", Side: "BUY", Price: 0.41, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, "ex-1", response.Data.OrderID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCreateOrderExhaustsRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	trading := newTestTrading(server.URL)
	_, err := trading.CreateOrder(context.Background(), CreateOrderRequest{TokenID: "tok-1", Side: "BUY", Price: 0.41, Size: 10})
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCreateOrderRejectionIsTerminal(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("invalid tick size"))
	}))
	defer server.Close()

	trading := newTestTrading(server.URL)
	_, err := trading.CreateOrder(context.Background(), CreateOrderRequest{TokenID: "tok-1", Side: "BUY", Price: 0.415, Size: 10})

	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, http.StatusBadRequest, rejection.Code)
	assert.Contains(t, rejection.Reason, "invalid tick size")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "rejections must not be retried")
}

func TestRateLimitedResponseRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "OK",
			"data":   map[string]interface{}{"orderId": "ex-1"},
		})
	}))
	defer server.Close()

	trading := newTestTrading(server.URL)
	_, err := trading.CreateOrder(context.Background(), CreateOrderRequest{TokenID: "tok-1", Side: "BUY", Price: 0.41, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCancelOrderAlreadyCancelledCountsAsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "OK",
			"data": map[string]interface{}{
				"canceled":    []string{},
				"notCanceled": map[string]string{"ex-1": "order already canceled"},
			},
		})
	}))
	defer server.Close()

	trading := newTestTrading(server.URL)
	response, err := trading.CancelOrder(context.Background(), CancelOrderRequest{OrderID: "ex-1", TokenID: "tok-1"})
	require.NoError(t, err)
	assert.Contains(t, response.Data.Canceled, "ex-1")
}

func TestCancelOrderRefusalSurfacesReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "OK",
			"data": map[string]interface{}{
				"canceled":    []string{},
				"notCanceled": map[string]string{"ex-1": "order is being matched"},
			},
		})
	}))
	defer server.Close()

	trading := newTestTrading(server.URL)
	_, err := trading.CancelOrder(context.Background(), CancelOrderRequest{OrderID: "ex-1", TokenID: "tok-1"})

	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Contains(t, rejection.Reason, "being matched")
}

type countingLimiter struct {
	acquires int32
}

func (l *countingLimiter) Acquire(ctx context.Context) error {
	atomic.AddInt32(&l.acquires, 1)
	return ctx.Err()
}

func TestEveryAttemptAcquiresTheRateLimiter(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "OK",
			"data":   map[string]interface{}{"orderId": "ex-1"},
		})
	}))
	defer server.Close()

	limiter := &countingLimiter{}
	trading := newTestTrading(server.URL)
	trading.Limiter = limiter

	_, err := trading.CreateOrder(context.Background(), CreateOrderRequest{TokenID: "tok-1", Side: "BUY", Price: 0.41, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, int32(3), atomic.LoadInt32(&limiter.acquires),
		"every HTTP attempt, retries included, must pass the limiter")
}

func TestCancelledContextAbortsBeforeTheWire(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	trading := newTestTrading(server.URL)
	trading.Limiter = &countingLimiter{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := trading.CreateOrder(ctx, CreateOrderRequest{TokenID: "tok-1", Side: "BUY", Price: 0.41, Size: 10})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "no request may leave after cancellation")
}

func TestCreateOrderMissingIDTreatedAsRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "OK", "data": map[string]interface{}{}})
	}))
	defer server.Close()

	trading := newTestTrading(server.URL)
	_, err := trading.CreateOrder(context.Background(), CreateOrderRequest{TokenID: "tok-1", Side: "BUY", Price: 0.41, Size: 10})

	var rejection *RejectionError
	assert.ErrorAs(t, err, &rejection)
}
