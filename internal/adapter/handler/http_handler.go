package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/stock-guard/internal/core/service"
	"github.com/rl1809/stock-guard/internal/pkg/logging"
	"github.com/rl1809/stock-guard/internal/port"
)

const requestIDHeader = "X-Request-ID"

type HTTPHandler struct {
	decrementer service.Decrementer
	stocks      port.StockReader
	logger      *zap.Logger
}

type DecrementHTTPRequest struct {
	StockID string `json:"stock_id"`
	Amount  int64  `json:"amount"`
}

type DecrementHTTPResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type StockHTTPResponse struct {
	StockID  string `json:"stock_id"`
	Quantity int64  `json:"quantity"`
}

func NewHTTPHandler(decrementer service.Decrementer, stocks port.StockReader, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{decrementer: decrementer, stocks: stocks, logger: logger}
}

func (h *HTTPHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/api/decrement", h.Decrement)
	mux.HandleFunc("/api/stock", h.GetStock)
	return mux
}

func (h *HTTPHandler) Decrement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := h.requestID(w, r)

	var req DecrementHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, DecrementHTTPResponse{
			Success: false,
			Message: "invalid request body",
		})
		return
	}

	if req.StockID == "" || req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, DecrementHTTPResponse{
			Success: false,
			Message: "missing required fields",
		})
		return
	}

	log := logging.ForRequest(h.logger, requestID, req.StockID)

	err := h.decrementer.Decrement(r.Context(), req.StockID, req.Amount)
	outcome := service.Outcome(err)
	if outcome == service.OutcomeLockLost {
		// committed; only the lock bookkeeping failed
		log.Warn("decrement committed but lock release failed", zap.Error(err))
		err = nil
	}
	if err != nil {
		status, message := statusFor(outcome)
		logFn := log.Info
		if status >= http.StatusInternalServerError {
			logFn = log.Error
		}
		logFn("decrement rejected",
			zap.Int64("amount", req.Amount),
			zap.String("outcome", outcome),
			zap.Error(err),
		)

		writeJSON(w, status, DecrementHTTPResponse{
			Success: false,
			Message: message,
		})
		return
	}

	log.Debug("decrement committed", zap.Int64("amount", req.Amount))
	writeJSON(w, http.StatusOK, DecrementHTTPResponse{
		Success: true,
		Message: "stock decremented",
	})
}

func (h *HTTPHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := h.requestID(w, r)

	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, DecrementHTTPResponse{Message: "missing id"})
		return
	}

	st, err := h.stocks.Get(r.Context(), id)
	if err != nil {
		status, message := statusFor(service.Outcome(err))
		if status >= http.StatusInternalServerError {
			logging.ForRequest(h.logger, requestID, id).Error("get stock failed", zap.Error(err))
		}
		writeJSON(w, status, DecrementHTTPResponse{Message: message})
		return
	}

	// version stays inside the store
	writeJSON(w, http.StatusOK, StockHTTPResponse{StockID: st.ID, Quantity: st.Quantity})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) requestID(w http.ResponseWriter, r *http.Request) string {
	id := r.Header.Get(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, id)
	return id
}

func statusFor(outcome string) (int, string) {
	switch outcome {
	case service.OutcomeNotFound:
		return http.StatusNotFound, "stock not found"
	case service.OutcomeInsufficientStock:
		return http.StatusGone, "sold out"
	case service.OutcomeInvalidAmount:
		return http.StatusBadRequest, "invalid amount"
	case service.OutcomeConflict, service.OutcomeRetriesExhausted:
		return http.StatusConflict, "too much contention, try again"
	case service.OutcomeLockUnavailable:
		return http.StatusServiceUnavailable, "stock is busy, try again"
	case service.OutcomeCanceled:
		return http.StatusRequestTimeout, "request canceled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
