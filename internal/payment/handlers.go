package payment

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-yatri/internal/common"
)

// RoleOperator may refund on behalf of any user and bypass the refund policy
// ceiling.
const RoleOperator = "operator"

// Handlers exposes the payment lifecycle over HTTP.
type Handlers struct {
	Service  *Service
	Validate *validator.Validate
	// KeyID is the public gateway key the client checkout widget needs.
	KeyID  string
	Logger zerolog.Logger
}

type createRequest struct {
	BookingID string `json:"bookingId" validate:"required,uuid4"`
	Method    string `json:"method" validate:"required"`
}

type createResponse struct {
	Payment Payment       `json:"payment"`
	Order   checkoutOrder `json:"order"`
}

type checkoutOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"keyId,omitempty"`
}

// Create opens a payment for a booking and returns the gateway order the
// client checkout needs.
func (h Handlers) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := authUser(w, r)
	if !ok {
		return
	}
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	bookingID, err := uuid.Parse(req.BookingID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid booking id", nil)
		return
	}
	method, ok := ParseMethod(req.Method)
	if !ok {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "unsupported payment method", nil)
		return
	}
	p, order, err := h.Service.CreatePayment(r.Context(), userID, bookingID, method)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, createResponse{
		Payment: p,
		Order: checkoutOrder{
			ID:       order.ID,
			Amount:   order.Amount,
			Currency: order.Currency,
			KeyID:    h.KeyID,
		},
	})
}

type verifyRequest struct {
	OrderID          string `json:"razorpayOrderId" validate:"required"`
	GatewayPaymentID string `json:"razorpayPaymentId" validate:"required"`
	Signature        string `json:"razorpaySignature" validate:"required"`
}

// Verify accepts the client's post-checkout proof of payment.
func (h Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	userID, ok := authUser(w, r)
	if !ok {
		return
	}
	var req verifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.Service.VerifyPayment(r.Context(), userID, req.OrderID, req.GatewayPaymentID, req.Signature)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"payment": p})
}

// Get returns a single payment owned by the caller.
func (h Handlers) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := authUser(w, r)
	if !ok {
		return
	}
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payment id", nil)
		return
	}
	p, err := h.Service.GetForUser(r.Context(), userID, paymentID)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"payment": p})
}

// List returns the caller's payment history, newest first.
func (h Handlers) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := authUser(w, r)
	if !ok {
		return
	}
	var status Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		status = Status(raw)
		if !status.Valid() {
			common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "unknown status filter", nil)
			return
		}
	}
	page, perPage := common.ParsePagination(r, 20)
	items, total, err := h.Service.ListForUser(r.Context(), userID, status, page, perPage)
	if err != nil {
		common.RenderError(w, err)
		return
	}
	if items == nil {
		items = []Payment{}
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"payments": items,
		"pagination": common.Pagination{
			Page:       page,
			PerPage:    perPage,
			TotalItems: total,
		},
	})
}

type refundRequest struct {
	Amount   *int64 `json:"amount" validate:"omitempty,gt=0"`
	Reason   string `json:"reason" validate:"max=500"`
	Override bool   `json:"override"`
}

// Refund refunds a paid payment. The override flag is honored only for
// operator callers.
func (h Handlers) Refund(w http.ResponseWriter, r *http.Request) {
	userID, ok := authUser(w, r)
	if !ok {
		return
	}
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payment id", nil)
		return
	}
	var req refundRequest
	if !h.decode(w, r, &req) {
		return
	}
	override := req.Override && common.HasRole(r.Context(), RoleOperator)
	p, err := h.Service.ProcessRefund(r.Context(), userID, paymentID, RefundRequest{
		Amount:   req.Amount,
		Reason:   req.Reason,
		Override: override,
	})
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"payment": p})
}

// Methods lists the payment methods the engine accepts.
func (h Handlers) Methods(w http.ResponseWriter, r *http.Request) {
	common.JSON(w, http.StatusOK, map[string]any{"methods": Methods()})
}

func (h Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid request body", nil)
		return false
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(v); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return false
		}
	}
	return true
}

func authUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid subject", nil)
		return uuid.Nil, false
	}
	return id, true
}
