package controller

import (
	"net/http"

	"github.com/gatewire/gatewire/internal/domain/attempt"
	"github.com/gatewire/gatewire/internal/domain/money"
	"github.com/gatewire/gatewire/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// PaymentController handles buyer-facing payment HTTP requests.
type PaymentController struct {
	initiateService *service.InitiateService
	statusService   *service.StatusService
}

// NewPaymentController creates a new PaymentController.
func NewPaymentController(initiateService *service.InitiateService, statusService *service.StatusService) *PaymentController {
	return &PaymentController{
		initiateService: initiateService,
		statusService:   statusService,
	}
}

// InitiatePayment handles POST /api/v1/payments
func (h *PaymentController) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req InitiatePaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid order_id", Code: "invalid_id"})
		return
	}
	amount, err := money.FromString(req.Amount, req.Currency)
	if err != nil {
		writeError(w, err)
		return
	}

	var gw attempt.Gateway
	if req.Gateway != "" {
		if gw, err = attempt.ParseGateway(req.Gateway); err != nil {
			writeError(w, err)
			return
		}
	}

	res, err := h.initiateService.Initiate(r.Context(), service.InitiateRequest{
		OrderID: orderID,
		Amount:  amount,
		Method:  attempt.Method(req.Method),
		Gateway: gw,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	a, err := h.statusService.GetAttempt(r.Context(), res.AttemptID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := FromAttempt(a)
	resp.RedirectURL = res.RedirectURL
	resp.CashCode = res.CashCode

	status := http.StatusCreated
	if res.Status == attempt.StatusPending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

// GetPayment handles GET /api/v1/payments/{id}
func (h *PaymentController) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid payment id", Code: "invalid_id"})
		return
	}

	a, err := h.statusService.GetAttempt(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromAttempt(a))
}

// ListOrderPayments handles GET /api/v1/orders/{id}/payments
func (h *PaymentController) ListOrderPayments(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid order id", Code: "invalid_id"})
		return
	}

	state, err := h.statusService.GetOrderPaymentState(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromOrderPaymentState(state))
}
