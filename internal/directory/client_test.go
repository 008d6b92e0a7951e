package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jogardn/customer-directory/internal/circuitbreaker"
	"github.com/jogardn/customer-directory/internal/metrics"
	"github.com/jogardn/customer-directory/internal/middleware"
	"github.com/jogardn/customer-directory/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchCustomersUnwrapsEnvelope(t *testing.T) {
	var gotQuery url.Values
	var gotRequestID string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/customers", r.URL.Path)
		gotQuery = r.URL.Query()
		gotRequestID = r.Header.Get("X-Request-ID")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","count":2,"data":[
			{"id":1,"first_name":"Ann","last_name":"Lee","email":"ann@x.com","orders_count":3},
			{"id":"b-2","first_name":"Bob","last_name":"Ng","email":"bob@x.com","orders_count":0}
		]}`))
	})

	logger, _ := logtest.NewNullLogger()
	client := NewClient(srv.URL+"/api/", logger)

	customers, err := client.FetchCustomers(context.Background(), url.Values{"skip": {"10"}, "email": {"x.com"}})
	require.NoError(t, err)
	require.Len(t, customers, 2)

	assert.Equal(t, models.ID("1"), customers[0].ID)
	assert.Equal(t, "Ann", customers[0].FirstName)
	assert.Equal(t, 3, customers[0].OrdersCount)
	assert.Equal(t, models.ID("b-2"), customers[1].ID)

	assert.Equal(t, "10", gotQuery.Get("skip"))
	assert.Equal(t, "x.com", gotQuery.Get("email"))
	assert.NotEmpty(t, gotRequestID)
}

func TestFetchCustomerByIDNestedOrders(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/customers/42", r.URL.Path)
		w.Write([]byte(`{"data":{
			"id":42,"first_name":"Ann","last_name":"Lee","email":"ann@x.com",
			"phone_number":null,"created_at":"2023-05-01T10:00:00","orders_count":1,
			"orders":[{"order_id":7,"status":"completed","item_count":5,
				"items":[{"id":1,"quantity":2,"price":3.5,"product":{"name":"Mug"}},
				         {"id":2,"quantity":1,"price":"10.00","product":{"name":"Tee"}}]}]
		}}`))
	})

	logger, _ := logtest.NewNullLogger()
	customer, err := NewClient(srv.URL, logger).FetchCustomerByID(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, "", customer.PhoneNumber)
	require.Len(t, customer.Orders, 1)
	order := customer.Orders[0]
	assert.Equal(t, models.ID("7"), order.ID)
	require.NotNil(t, order.ItemCount)
	assert.Equal(t, 5, *order.ItemCount)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "Tee", order.Items[1].Product.Name)
	assert.Equal(t, "10", order.Items[1].Price.String())
}

func TestFetchNormalizesFailures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantKind    Kind
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "not found with detail",
			status:      http.StatusNotFound,
			body:        `{"detail":"Customer not found"}`,
			wantKind:    KindServerError,
			wantStatus:  http.StatusNotFound,
			wantMessage: "Customer not found",
		},
		{
			name:        "server error without body",
			status:      http.StatusInternalServerError,
			wantKind:    KindServerError,
			wantStatus:  http.StatusInternalServerError,
			wantMessage: FallbackServerMessage,
		},
		{
			name:        "validation detail is not a string",
			status:      http.StatusUnprocessableEntity,
			body:        `{"detail":[{"loc":["path","customer_id"],"msg":"value is not a valid integer"}]}`,
			wantKind:    KindServerError,
			wantStatus:  http.StatusUnprocessableEntity,
			wantMessage: FallbackServerMessage,
		},
		{
			name:     "malformed success body",
			status:   http.StatusOK,
			body:     `<html>proxy page</html>`,
			wantKind: KindClientError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			logger, hook := logtest.NewNullLogger()
			_, err := NewClient(srv.URL, logger).FetchCustomerByID(context.Background(), "1")
			require.Error(t, err)

			var de *Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.wantKind, de.Kind)
			assert.Equal(t, tt.wantStatus, de.Status)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, de.Message)
			} else {
				assert.NotEmpty(t, de.Message)
			}

			require.NotNil(t, hook.LastEntry())
			assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
			assert.Equal(t, tt.wantKind, hook.LastEntry().Data["kind"])
		})
	}
}

func TestFetchNotFoundHelpers(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Customer not found"}`))
	})

	logger, _ := logtest.NewNullLogger()
	_, err := NewClient(srv.URL, logger).FetchCustomerByID(context.Background(), "999")

	assert.True(t, IsNotFound(err))
	assert.Equal(t, KindServerError, KindOf(err))
	assert.Equal(t, "Customer not found", MessageOf(err))
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
	assert.Equal(t, "directory server-error (404): Customer not found", err.Error())
}

func TestFetchNoResponse(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	logger, hook := logtest.NewNullLogger()
	_, err := NewClient(baseURL, logger).FetchCustomers(context.Background(), nil)

	require.Error(t, err)
	assert.Equal(t, KindNoResponse, KindOf(err))
	assert.Equal(t, NoResponseMessage, MessageOf(err))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Directory request failed", hook.LastEntry().Message)
}

func TestFetchTimeoutIsNoResponse(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	logger, _ := logtest.NewNullLogger()
	_, err := NewClient(srv.URL, logger, WithTimeout(20*time.Millisecond)).FetchCustomers(context.Background(), nil)

	assert.Equal(t, KindNoResponse, KindOf(err))
}

func TestFetchClientError(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	_, err := NewClient("http://[::1", logger).FetchCustomers(context.Background(), nil)

	require.Error(t, err)
	assert.Equal(t, KindClientError, KindOf(err))
	assert.NotEmpty(t, MessageOf(err))
}

func TestFetchMakesExactlyOneAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	logger, _ := logtest.NewNullLogger()
	_, err := NewClient(srv.URL, logger).FetchCustomers(context.Background(), nil)

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchWithOpenBreakerSendsNothing(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"data":[]}`))
	})

	logger, _ := logtest.NewNullLogger()
	cb := circuitbreaker.New(circuitbreaker.Config{Name: "directory", MaxFailures: 1, Timeout: time.Minute}, logger)
	cb.Execute(func() error { return context.DeadlineExceeded })
	require.Equal(t, circuitbreaker.StateOpen, cb.State())

	_, err := NewClient(srv.URL, logger, WithCircuitBreaker(cb)).FetchCustomers(context.Background(), nil)

	assert.Equal(t, KindNoResponse, KindOf(err))
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
	assert.Equal(t, int32(0), calls.Load())
}

func TestServerErrorsDoNotTripBreaker(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	logger, _ := logtest.NewNullLogger()
	cb := circuitbreaker.New(circuitbreaker.Config{Name: "directory", MaxFailures: 1, Timeout: time.Minute}, logger)
	client := NewClient(srv.URL, logger, WithCircuitBreaker(cb))

	for i := 0; i < 3; i++ {
		_, err := client.FetchOrder(context.Background(), "5")
		assert.Equal(t, KindServerError, KindOf(err))
	}
	assert.Equal(t, circuitbreaker.StateClosed, cb.State())
}

func TestFetchRecordsMetrics(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/customers" {
			w.Write([]byte(`{"data":[]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	m := metrics.New(prometheus.NewRegistry())
	logger, _ := logtest.NewNullLogger()
	client := NewClient(srv.URL, logger, WithMetrics(m))

	_, err := client.FetchCustomers(context.Background(), nil)
	require.NoError(t, err)
	_, err = client.FetchCustomerOrders(context.Background(), "3", nil)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchesTotal.WithLabelValues("fetch_customers", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchesTotal.WithLabelValues("fetch_customer_orders", "server-error")))
}

func slowUnlessFast(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("fast") == "" {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(time.Second):
		}
	}
	w.Write([]byte(`{"data":[]}`))
}

func TestCancelledRequestsDoNotTripBreaker(t *testing.T) {
	srv := newTestServer(t, slowUnlessFast)

	m := metrics.New(prometheus.NewRegistry())
	logger, hook := logtest.NewNullLogger()
	cb := circuitbreaker.New(circuitbreaker.Config{Name: "directory", MaxFailures: 2, Timeout: time.Minute}, logger)
	client := NewClient(srv.URL, logger, WithCircuitBreaker(cb), WithMetrics(m))

	for i := 0; i < 4; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(10*time.Millisecond, cancel)

		_, err := client.FetchCustomers(ctx, nil)
		require.Error(t, err)
		assert.Equal(t, KindNoResponse, KindOf(err))
		assert.ErrorIs(t, err, context.Canceled)
		cancel()
	}

	assert.Equal(t, circuitbreaker.StateClosed, cb.State())
	assert.Equal(t, int64(4), cb.Snapshot().TotalIgnored)
	assert.Equal(t, 0, cb.Snapshot().Failures)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.FetchesTotal.WithLabelValues("fetch_customers", "cancelled")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.FetchesTotal.WithLabelValues("fetch_customers", "no-response")))
	for _, entry := range hook.AllEntries() {
		assert.NotEqual(t, logrus.ErrorLevel, entry.Level, entry.Message)
	}

	_, err := client.FetchCustomers(context.Background(), url.Values{"fast": {"1"}})
	assert.NoError(t, err)
}

func TestTimeoutsStillTripBreaker(t *testing.T) {
	srv := newTestServer(t, slowUnlessFast)

	logger, _ := logtest.NewNullLogger()
	cb := circuitbreaker.New(circuitbreaker.Config{Name: "directory", MaxFailures: 2, Timeout: time.Minute}, logger)
	client := NewClient(srv.URL, logger, WithCircuitBreaker(cb), WithTimeout(20*time.Millisecond))

	for i := 0; i < 2; i++ {
		_, err := client.FetchCustomers(context.Background(), nil)
		assert.Equal(t, KindNoResponse, KindOf(err))
	}
	assert.Equal(t, circuitbreaker.StateOpen, cb.State())
}

func TestWithTimeoutIgnoresOptionOrder(t *testing.T) {
	srv := newTestServer(t, slowUnlessFast)
	logger, _ := logtest.NewNullLogger()

	client := NewClient(srv.URL, logger, WithTimeout(20*time.Millisecond), WithHTTPClient(&http.Client{}))
	hc, ok := client.httpClient.(*http.Client)
	require.True(t, ok)
	assert.Equal(t, 20*time.Millisecond, hc.Timeout)

	start := time.Now()
	_, err := client.FetchCustomers(context.Background(), nil)
	assert.Equal(t, KindNoResponse, KindOf(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestTruncatedBodyIsNoResponse(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.Write([]byte(`{"data":[`))
	})

	logger, hook := logtest.NewNullLogger()
	_, err := NewClient(srv.URL, logger).FetchCustomers(context.Background(), nil)

	assert.Equal(t, KindNoResponse, KindOf(err))
	assert.Equal(t, NoResponseMessage, MessageOf(err))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestRequestIDFromContext(t *testing.T) {
	var seen atomic.Value
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get(middleware.RequestIDHeader))
		w.Write([]byte(`{"data":[]}`))
	})

	logger, _ := logtest.NewNullLogger()
	client := NewClient(srv.URL, logger)

	ctx := middleware.WithRequestID(context.Background(), "abc-123")
	_, err := client.FetchCustomers(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc-123", seen.Load())

	_, err = client.FetchCustomers(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, seen.Load())
	assert.NotEqual(t, "abc-123", seen.Load())
}
