package source

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/jogardn/customer-directory/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	defaultSkip  = 0
	defaultLimit = 10
)

// validationIssue mirrors one entry of the list-valued detail returned for
// malformed parameters.
type validationIssue struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

type Handler struct {
	store  Store
	logger *logrus.Logger
}

func NewHandler(store Store, logger *logrus.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Register mounts the directory routes on router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/", h.Root).Methods("GET")
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/customers", h.ListCustomers).Methods("GET")
	api.HandleFunc("/customers/", h.ListCustomers).Methods("GET")
	api.HandleFunc("/customers/{id}", h.GetCustomer).Methods("GET")
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to the Customer Order Dashboard API",
		"status":  "running",
		"version": "1.0.0",
	})
}

func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	skip, ok := h.intParam(w, r, "skip", defaultSkip)
	if !ok {
		return
	}
	limit, ok := h.intParam(w, r, "limit", defaultLimit)
	if !ok {
		return
	}

	customers, err := h.store.ListCustomers(r.Context(), skip, limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list customers")
		h.respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	count := len(customers)
	h.logger.WithFields(logrus.Fields{
		"skip":  skip,
		"limit": limit,
		"count": count,
	}).Info("Listed customers")

	h.respondWithJSON(w, http.StatusOK, models.Envelope[[]models.Customer]{
		Status: "success",
		Count:  &count,
		Data:   customers,
	})
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.respondWithValidationError(w, "path", "customer_id")
		return
	}

	customer, err := h.store.GetCustomer(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		h.respondWithError(w, http.StatusNotFound, "Customer not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("customer_id", id).Error("Failed to get customer")
		h.respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"customer_id":  id,
		"orders_count": customer.OrdersCount,
	}).Info("Retrieved customer")

	h.respondWithJSON(w, http.StatusOK, models.Envelope[models.Customer]{
		Status: "success",
		Data:   customer,
	})
}

// intParam writes a 422 and reports false when the parameter is present but
// not a non-negative integer.
func (h *Handler) intParam(w http.ResponseWriter, r *http.Request, name string, defaultValue int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultValue, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		h.respondWithValidationError(w, "query", name)
		return 0, false
	}
	return n, true
}

func (h *Handler) respondWithValidationError(w http.ResponseWriter, location, name string) {
	h.respondWithJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
		"detail": []validationIssue{{
			Loc:  []string{location, name},
			Msg:  "value is not a valid integer",
			Type: "type_error.integer",
		}},
	})
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, detail string) {
	h.respondWithJSON(w, code, map[string]string{"detail": detail})
}
