package order

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/storyforge/credits-api/internal/middleware"
	"github.com/storyforge/credits-api/internal/pkg/response"
	"github.com/storyforge/credits-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type createPendingRequest struct {
	ProductType    string  `json:"product_type" validate:"required"`
	ProductID      string  `json:"product_id" validate:"required"`
	CreditsGranted int64   `json:"credits_granted" validate:"required,gt=0"`
	AmountPaid     float64 `json:"amount_paid" validate:"gte=0"`
	Currency       string  `json:"currency"`
	IdempotencyKey string  `json:"idempotency_key"`
}

type updateTransactionRequest struct {
	TransactionID string `json:"transaction_id" validate:"required"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// Webhook receives payment-provider fulfillment callbacks. Providers retry
// until they see 2xx, so this endpoint leans entirely on Fulfill's
// idempotency.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	var input FulfillInput
	if err := response.DecodeJSON(r.Body, &input); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if details := validator.Struct(input); details != nil {
		response.ValidationError(w, details)
		return
	}

	result, err := h.svc.Fulfill(r.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingIdempotency), errors.Is(err, ErrInvalidInput):
			response.BadRequest(w, err.Error())
		default:
			response.InternalError(w)
		}
		return
	}

	response.OK(w, result)
}

func (h *Handler) CreatePending(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req createPendingRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if details := validator.Struct(req); details != nil {
		response.ValidationError(w, details)
		return
	}

	o, err := h.svc.CreatePending(r.Context(), CreatePendingInput{
		UserID:         userID,
		ProductType:    req.ProductType,
		ProductID:      req.ProductID,
		CreditsGranted: req.CreditsGranted,
		AmountPaid:     req.AmountPaid,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			response.BadRequest(w, err.Error())
			return
		}
		response.InternalError(w)
		return
	}

	response.Created(w, o)
}

func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid order id")
		return
	}

	o, err := h.svc.GetByID(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			response.NotFound(w, "order not found")
			return
		}
		response.InternalError(w)
		return
	}
	if o.UserID != userID && middleware.GetRole(r.Context()) != "admin" {
		response.NotFound(w, "order not found")
		return
	}

	response.OK(w, o)
}

func (h *Handler) ListMy(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	orders, err := h.svc.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, orders)
}

func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	h.updatePending(w, r, func(orderID uuid.UUID, r *http.Request) error {
		var req updateTransactionRequest
		if err := response.DecodeJSON(r.Body, &req); err != nil {
			return ErrInvalidInput
		}
		if details := validator.Struct(req); details != nil {
			return ErrInvalidInput
		}
		return h.svc.UpdatePendingTransaction(r.Context(), orderID, req.TransactionID)
	})
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	h.updatePending(w, r, func(orderID uuid.UUID, r *http.Request) error {
		var req updateStatusRequest
		if err := response.DecodeJSON(r.Body, &req); err != nil {
			return ErrInvalidInput
		}
		return h.svc.UpdatePendingStatus(r.Context(), orderID, Status(req.Status))
	})
}

func (h *Handler) updatePending(w http.ResponseWriter, r *http.Request, fn func(uuid.UUID, *http.Request) error) {
	if middleware.GetUserID(r.Context()) == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid order id")
		return
	}

	if err := fn(orderID, r); err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			response.BadRequest(w, err.Error())
		case errors.Is(err, ErrNotPending):
			response.Conflict(w, "order is not pending")
		case errors.Is(err, ErrOrderNotFound):
			response.NotFound(w, "order not found")
		default:
			response.InternalError(w)
		}
		return
	}

	response.NoContent(w)
}

// Routes wires authenticated order endpoints.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/", h.CreatePending)
	r.Get("/", h.ListMy)
	r.Get("/{id}", h.GetByID)
	r.Patch("/{id}/transaction", h.UpdateTransaction)
	r.Patch("/{id}/status", h.UpdateStatus)
	return r
}

// WebhookRoutes wires provider callbacks; secured by shared secret, not JWT.
func (h *Handler) WebhookRoutes(secretMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(secretMiddleware)
	r.Post("/payments", h.Webhook)
	return r
}
