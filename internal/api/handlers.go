package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/vaidashi/storefront-orders/internal/fulfillment"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/repository"
	"github.com/vaidashi/storefront-orders/internal/service"
	apperrors "github.com/vaidashi/storefront-orders/pkg/errors"
)

type ApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Health represents the health check response
type Health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// OrderSummary is the order and payment status breakdown
type OrderSummary struct {
	ByStatus        map[string]int `json:"by_status"`
	ByPaymentStatus map[string]int `json:"by_payment_status"`
	VerifiedRevenue string         `json:"verified_revenue"`
}

func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: Health{
			Status:    "ok",
			Version:   "1.0.0",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// createOrderHandler answers 201 for a new order and 200 when a recent pending order was reused
func (s *Server) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req service.CreateOrderRequest
	if !s.decode(w, r, &req) {
		return
	}

	order, created, err := s.deps.Orders.CreateOrder(r.Context(), req)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.respondWithJSON(w, status, ApiResponse{Success: true, Data: order})
}

func (s *Server) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	order, err := s.deps.Orders.GetOrder(r.Context(), mux.Vars(r)["number"])
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: order})
}

func (s *Server) listOrdersHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := repository.OrderFilter{
		Status:        models.OrderStatus(q.Get("status")),
		PaymentStatus: models.PaymentStatus(q.Get("payment_status")),
		CustomerID:    q.Get("customer_id"),
		Search:        q.Get("q"),
	}
	// bad numbers fall back to the service defaults
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	page, err := s.deps.Orders.ListOrders(r.Context(), filter)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: page})
}

func (s *Server) orderSummaryHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	byStatus, err := s.deps.Orders.StatusCounts(ctx)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}
	byPayment, err := s.deps.Orders.PaymentStatusCounts(ctx)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}
	revenue, err := s.deps.Orders.VerifiedRevenue(ctx)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: OrderSummary{
		ByStatus:        byStatus,
		ByPaymentStatus: byPayment,
		VerifiedRevenue: revenue.StringFixed(2),
	}})
}

func (s *Server) updateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	var upd service.StatusUpdate
	if !s.decode(w, r, &upd) {
		return
	}

	order, err := s.deps.Orders.UpdateOrderStatus(r.Context(), mux.Vars(r)["number"], upd)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: order})
}

func (s *Server) checkFulfillmentHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	stage, ok := fulfillment.ParseStage(vars["stage"])
	if !ok {
		s.respondWithAppError(w, apperrors.NewInvalidInputError("unknown fulfillment stage "+vars["stage"]))
		return
	}

	decision, err := s.deps.Orders.CheckFulfillment(r.Context(), vars["number"], stage)
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: decision})
}

// decode reads a JSON body, answering 400 itself when it cannot
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respondWithError(w, http.StatusBadRequest, apperrors.CodeValidation, "Invalid request payload")
		return false
	}
	return true
}

// respondWithAppError maps a service error onto its status and stable code
func (s *Server) respondWithAppError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		s.logger.Error("Unclassified error reached the HTTP layer", "error", err)
		s.respondWithError(w, http.StatusInternalServerError, apperrors.CodeInternal, "internal server error")
		return
	}

	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	message := appErr.Error()
	if status >= http.StatusInternalServerError && appErr.Kind == apperrors.KindInternal {
		message = "internal server error"
	}

	// refused operations echo the state they were refused on
	resp := ApiResponse{Success: false, Error: message, Code: appErr.Code}
	if current, ok := appErr.Context[apperrors.ContextCurrent]; ok && status < http.StatusInternalServerError {
		resp.Data = current
	}
	s.respondWithJSON(w, status, resp)
}

func (s *Server) respondWithError(w http.ResponseWriter, status int, code, message string) {
	s.respondWithJSON(w, status, ApiResponse{
		Success: false,
		Error:   message,
		Code:    code,
	})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
