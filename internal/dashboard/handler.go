// Package dashboard exposes the customer directory views over HTTP: list
// and detail view models together with the load state that produced them.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/jogardn/customer-directory/internal/circuitbreaker"
	"github.com/jogardn/customer-directory/internal/directory"
	"github.com/jogardn/customer-directory/internal/events"
	"github.com/jogardn/customer-directory/internal/filter"
	"github.com/jogardn/customer-directory/internal/loadstate"
	"github.com/jogardn/customer-directory/internal/metrics"
	"github.com/jogardn/customer-directory/internal/viewmodel"
	"github.com/jogardn/customer-directory/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	listView   = "customers"
	detailView = "customer_detail"

	StateMessageType = "customers.state"
)

type Directory interface {
	FetchCustomers(ctx context.Context, query url.Values) ([]models.Customer, error)
	FetchCustomerByID(ctx context.Context, id models.ID) (models.Customer, error)
}

type WebSocketHub interface {
	Broadcast(messageType string, data interface{}, source string)
}

type EventPublisher interface {
	PublishFetchSettled(event events.FetchSettledEvent) error
}

type Options struct {
	Mapper   viewmodel.Mapper
	Timeout  time.Duration
	Metrics  *metrics.Metrics
	Breakers *circuitbreaker.Manager
}

type Handler struct {
	directory Directory
	mapper    viewmodel.Mapper
	timeout   time.Duration
	metrics   *metrics.Metrics
	breakers  *circuitbreaker.Manager
	logger    *logrus.Logger

	list *loadstate.Controller[[]viewmodel.CustomerSummary]

	wsHub     WebSocketHub
	publisher EventPublisher
}

func NewHandler(dir Directory, opts Options, logger *logrus.Logger) *Handler {
	h := &Handler{
		directory: dir,
		mapper:    opts.Mapper,
		timeout:   opts.Timeout,
		metrics:   opts.Metrics,
		breakers:  opts.Breakers,
		logger:    logger,
	}

	h.list = loadstate.New[[]viewmodel.CustomerSummary](loadstate.Config{
		Name:    listView,
		Timeout: opts.Timeout,
		Metrics: opts.Metrics,
	}, logger)
	h.list.OnChange(h.onListChange)

	return h
}

// SetWebSocketHub and SetEventPublisher must be called before the first
// load.
func (h *Handler) SetWebSocketHub(hub WebSocketHub) {
	h.wsHub = hub
}

func (h *Handler) SetEventPublisher(p EventPublisher) {
	h.publisher = p
}

func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods("GET", "OPTIONS")
	router.HandleFunc("/customers", h.GetCustomers).Methods("GET", "OPTIONS")
	router.HandleFunc("/customers/refresh", h.RefreshCustomers).Methods("POST", "OPTIONS")
	router.HandleFunc("/customers/{id}", h.GetCustomer).Methods("GET", "OPTIONS")
}

// LoadCustomers starts a new list fetch with query forwarded to the
// directory. ctx must outlive the fetch.
func (h *Handler) LoadCustomers(ctx context.Context, query url.Values) uint64 {
	return h.list.Load(ctx, func(ctx context.Context) ([]viewmodel.CustomerSummary, error) {
		raw, err := h.directory.FetchCustomers(ctx, query)
		if err != nil {
			return nil, err
		}
		return h.mapper.CustomerSummaries(raw), nil
	})
}

// ListState returns the current list load state.
func (h *Handler) ListState() loadstate.State[[]viewmodel.CustomerSummary] {
	return h.list.State()
}

func (h *Handler) Close() {
	h.list.Close()
}

func (h *Handler) GetCustomers(w http.ResponseWriter, r *http.Request) {
	state := h.list.State()
	query := r.URL.Query().Get("q")

	view := newStateView(state)
	switch state.Status {
	case loadstate.StatusSuccess:
		view.Data = filter.FilterCustomers(state.Data, query)
		view.Query = query
		h.respondWithJSON(w, http.StatusOK, view)
	case loadstate.StatusError:
		h.respondWithJSON(w, http.StatusBadGateway, view)
	default:
		h.respondWithJSON(w, http.StatusAccepted, view)
	}
}

func (h *Handler) RefreshCustomers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	query.Del("q")

	gen := h.LoadCustomers(context.WithoutCancel(r.Context()), query)

	h.logger.WithFields(logrus.Fields{
		"generation": gen,
		"query":      query.Encode(),
	}).Info("Customer list refresh requested")

	h.respondWithJSON(w, http.StatusAccepted, newStateView(h.list.State()))
}

// GetCustomer runs one detail fetch-render cycle and waits for it to settle.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id := models.ID(mux.Vars(r)["id"])

	ctrl := loadstate.New[viewmodel.CustomerDetail](loadstate.Config{
		Name:    detailView,
		Timeout: h.timeout,
		Metrics: h.metrics,
	}, h.logger)
	defer ctrl.Close()
	ctrl.OnChange(func(s loadstate.State[viewmodel.CustomerDetail]) {
		h.publishSettled(detailView, s.Status, s.Generation, s.Err, 1)
	})

	ctrl.Load(r.Context(), func(ctx context.Context) (viewmodel.CustomerDetail, error) {
		raw, err := h.directory.FetchCustomerByID(ctx, id)
		if err != nil {
			return viewmodel.CustomerDetail{}, err
		}
		return h.mapper.CustomerDetail(raw), nil
	})

	state, err := ctrl.Wait(r.Context())
	if err != nil {
		h.logger.WithError(err).WithField("customer_id", id).Warn("Customer request ended before load settled")
		view := newStateView(state)
		view.Message = "Request ended before the customer loaded"
		h.respondWithJSON(w, http.StatusGatewayTimeout, view)
		return
	}

	view := newStateView(state)
	switch {
	case state.Status == loadstate.StatusSuccess:
		view.Data = state.Data
		h.respondWithJSON(w, http.StatusOK, view)
	case directory.IsNotFound(state.Err):
		h.respondWithJSON(w, http.StatusNotFound, view)
	default:
		h.respondWithJSON(w, http.StatusBadGateway, view)
	}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	state := h.list.State()

	health := map[string]interface{}{
		"status":  "healthy",
		"service": "customer-dashboard",
		"customers": map[string]interface{}{
			"state":      state.Status,
			"generation": state.Generation,
			"updated_at": state.UpdatedAt,
		},
	}
	if h.breakers != nil {
		health["circuit_breakers"] = h.breakers.Snapshots()
	}

	h.respondWithJSON(w, http.StatusOK, health)
}

func (h *Handler) onListChange(state loadstate.State[[]viewmodel.CustomerSummary]) {
	if h.wsHub != nil {
		view := newStateView(state)
		if state.Status == loadstate.StatusSuccess {
			view.Data = state.Data
		}
		h.wsHub.Broadcast(StateMessageType, view, "dashboard")
	}

	h.publishSettled(listView, state.Status, state.Generation, state.Err, len(state.Data))
}

// publishSettled sends settled transitions to Kafka off the caller's
// goroutine; loading transitions are skipped.
func (h *Handler) publishSettled(view string, status loadstate.Status, gen uint64, err error, count int) {
	if h.publisher == nil || status == loadstate.StatusLoading || status == loadstate.StatusIdle {
		return
	}

	event := events.FetchSettledEvent{
		View:       view,
		Generation: gen,
		Status:     status.String(),
		SettledAt:  time.Now(),
	}
	if err != nil {
		event.ErrorKind = string(directory.KindOf(err))
		event.Message = directory.MessageOf(err)
	} else {
		event.Count = count
	}

	go func() {
		if err := h.publisher.PublishFetchSettled(event); err != nil {
			h.logger.WithError(err).WithField("view", view).Warn("Failed to publish fetch outcome")
		}
	}()
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal response")
		h.respondWithError(w, http.StatusInternalServerError, "Failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"state": "error", "message": message})
}
