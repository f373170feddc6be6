package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/service"
)

// staffAction is the body of every staff verification call
type staffAction struct {
	Staff  string `json:"staff"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) respondWithPayment(w http.ResponseWriter, payment *models.Payment, err error) {
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: payment})
}

func (s *Server) getPaymentHandler(w http.ResponseWriter, r *http.Request) {
	payment, err := s.deps.Ledger.GetPayment(r.Context(), mux.Vars(r)["reference"])
	s.respondWithPayment(w, payment, err)
}

func (s *Server) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	payments, err := s.deps.Ledger.ListPayments(r.Context(), mux.Vars(r)["number"])
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: payments})
}

func (s *Server) retryPaymentHandler(w http.ResponseWriter, r *http.Request) {
	payment, err := s.deps.Ledger.RetryPayment(r.Context(), mux.Vars(r)["number"])
	if err != nil {
		s.respondWithAppError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: payment})
}

func (s *Server) offlineProofHandler(w http.ResponseWriter, r *http.Request) {
	var proof service.OfflineProof
	if !s.decode(w, r, &proof) {
		return
	}

	payment, err := s.deps.Ledger.AttachOfflineProof(r.Context(), mux.Vars(r)["reference"], proof)
	s.respondWithPayment(w, payment, err)
}

func (s *Server) startCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GatewayOrderID string `json:"gateway_order_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	payment, err := s.deps.Engine.StartOnlineCheckout(r.Context(), mux.Vars(r)["reference"], req.GatewayOrderID)
	s.respondWithPayment(w, payment, err)
}

// confirmGatewayPaymentHandler takes the gateway callback. A bad signature is a 400 and changes nothing.
func (s *Server) confirmGatewayPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var c service.GatewayConfirmation
	if !s.decode(w, r, &c) {
		return
	}

	payment, err := s.deps.Engine.ConfirmGatewayPayment(r.Context(), c)
	s.respondWithPayment(w, payment, err)
}

func (s *Server) gatewayFailureHandler(w http.ResponseWriter, r *http.Request) {
	var req staffAction
	if !s.decode(w, r, &req) {
		return
	}

	payment, err := s.deps.Engine.RecordGatewayFailure(r.Context(), mux.Vars(r)["reference"], req.Reason)
	s.respondWithPayment(w, payment, err)
}

func (s *Server) verifyOfflineHandler(w http.ResponseWriter, r *http.Request) {
	var req staffAction
	if !s.decode(w, r, &req) {
		return
	}

	payment, err := s.deps.Engine.VerifyOfflinePayment(r.Context(), mux.Vars(r)["reference"], req.Staff)
	s.respondWithPayment(w, payment, err)
}

func (s *Server) rejectOfflineHandler(w http.ResponseWriter, r *http.Request) {
	var req staffAction
	if !s.decode(w, r, &req) {
		return
	}

	payment, err := s.deps.Engine.RejectOfflinePayment(r.Context(), mux.Vars(r)["reference"], req.Staff, req.Reason)
	s.respondWithPayment(w, payment, err)
}

func (s *Server) verifyCODAdvanceHandler(w http.ResponseWriter, r *http.Request) {
	var req staffAction
	if !s.decode(w, r, &req) {
		return
	}

	payment, err := s.deps.Engine.VerifyCODAdvance(r.Context(), mux.Vars(r)["reference"], req.Staff)
	s.respondWithPayment(w, payment, err)
}

func (s *Server) verifyCODHandler(w http.ResponseWriter, r *http.Request) {
	var req staffAction
	if !s.decode(w, r, &req) {
		return
	}

	payment, err := s.deps.Engine.VerifyCODPayment(r.Context(), mux.Vars(r)["reference"], req.Staff)
	s.respondWithPayment(w, payment, err)
}

func (s *Server) codCollectionHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Notes  *string         `json:"notes,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	payment, err := s.deps.Engine.RecordCODCollection(r.Context(), mux.Vars(r)["reference"], req.Amount, req.Notes)
	s.respondWithPayment(w, payment, err)
}

func (s *Server) refundHandler(w http.ResponseWriter, r *http.Request) {
	var refund service.Refund
	if !s.decode(w, r, &refund) {
		return
	}

	payment, err := s.deps.Engine.RecordRefund(r.Context(), mux.Vars(r)["reference"], refund)
	s.respondWithPayment(w, payment, err)
}
