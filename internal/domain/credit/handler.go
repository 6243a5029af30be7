package credit

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
	svc         *Service
	signupBonus int64
}

// NewHandler builds the credit handler. signupBonus is the starting balance
// granted when an initialize request does not name one.
func NewHandler(svc *Service, signupBonus int64) *Handler {
	return &Handler{svc: svc, signupBonus: signupBonus}
}

type reserveRequest struct {
	Amount      int64    `json:"amount" validate:"required,gt=0"`
	Description string   `json:"description" validate:"required"`
	Metadata    Metadata `json:"metadata,omitempty"`
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type settleRequest struct {
	ActualAmount int64    `json:"actual_amount" validate:"gte=0"`
	Metadata     Metadata `json:"metadata,omitempty"`
}

type grantRequest struct {
	UserID      uuid.UUID `json:"user_id" validate:"required"`
	Amount      int64     `json:"amount" validate:"required,gt=0"`
	Type        string    `json:"type" validate:"required,credit_tx_type"`
	Description string    `json:"description"`
	Metadata    Metadata  `json:"metadata,omitempty"`
}

type initializeRequest struct {
	UserID          uuid.UUID `json:"user_id" validate:"required"`
	StartingBalance *int64    `json:"starting_balance" validate:"omitempty,gte=0"`
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	balance, err := h.svc.GetBalance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			response.NotFound(w, "credit account not found")
			return
		}
		response.InternalError(w)
		return
	}

	response.OK(w, balance)
}

func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	transactions, err := h.svc.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, transactions)
}

func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req reserveRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if details := validator.Struct(req); details != nil {
		response.ValidationError(w, details)
		return
	}

	result, err := h.svc.Reserve(r.Context(), userID, req.Amount, req.Description, req.Metadata)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			response.BadRequest(w, err.Error())
			return
		}
		response.InternalError(w)
		return
	}

	if !result.Success {
		// 402 carries the current balance so clients can render
		// "you have N credits, this costs M".
		response.JSON(w, http.StatusPaymentRequired, result)
		return
	}

	response.OK(w, result)
}

func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	transactionID, ok := h.reservationID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Commit(r.Context(), transactionID); err != nil {
		h.writeReservationError(w, err)
		return
	}

	response.NoContent(w)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	transactionID, ok := h.reservationID(w, r)
	if !ok {
		return
	}

	var req cancelRequest
	if r.ContentLength > 0 {
		if err := response.DecodeJSON(r.Body, &req); err != nil {
			response.BadRequest(w, "invalid JSON body")
			return
		}
	}

	result, err := h.svc.Cancel(r.Context(), transactionID, req.Reason)
	if err != nil {
		h.writeReservationError(w, err)
		return
	}

	response.OK(w, result)
}

func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	transactionID, ok := h.reservationID(w, r)
	if !ok {
		return
	}

	var req settleRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if details := validator.Struct(req); details != nil {
		response.ValidationError(w, details)
		return
	}

	result, err := h.svc.Settle(r.Context(), transactionID, req.ActualAmount, req.Metadata)
	if err != nil {
		if errors.Is(err, ErrExceedsReserved) {
			response.Conflict(w, err.Error())
			return
		}
		h.writeReservationError(w, err)
		return
	}

	response.OK(w, result)
}

func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if details := validator.Struct(req); details != nil {
		response.ValidationError(w, details)
		return
	}

	txn, err := h.svc.Add(r.Context(), req.UserID, req.Amount, TransactionType(req.Type), req.Description, req.Metadata)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			response.BadRequest(w, err.Error())
			return
		}
		response.InternalError(w)
		return
	}

	response.Created(w, txn)
}

func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if details := validator.Struct(req); details != nil {
		response.ValidationError(w, details)
		return
	}

	startingBalance := h.signupBonus
	if req.StartingBalance != nil {
		startingBalance = *req.StartingBalance
	}

	account, err := h.svc.Initialize(r.Context(), req.UserID, startingBalance)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			response.BadRequest(w, err.Error())
		case errors.Is(err, ErrAccountNotFound):
			response.Conflict(w, "account was retired by a merge")
		default:
			response.InternalError(w)
		}
		return
	}

	response.Created(w, account)
}

func (h *Handler) reservationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if middleware.GetUserID(r.Context()) == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return uuid.Nil, false
	}

	transactionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid reservation id")
		return uuid.Nil, false
	}
	return transactionID, true
}

func (h *Handler) writeReservationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		response.NotFound(w, "reservation not found")
	case errors.Is(err, ErrAlreadyProcessed), errors.Is(err, ErrNotReservation):
		response.Conflict(w, err.Error())
	case errors.Is(err, ErrAccountNotFound):
		response.NotFound(w, "credit account not found")
	case errors.Is(err, ErrInvalidAmount):
		response.BadRequest(w, err.Error())
	default:
		response.InternalError(w)
	}
}

// Routes wires the credit endpoints. Grant and initialize require the
// service role; they are called by trusted backend components, not clients.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Get("/balance", h.Balance)
	r.Get("/transactions", h.Transactions)
	r.Post("/reserve", h.Reserve)
	r.Post("/reservations/{id}/commit", h.Commit)
	r.Post("/reservations/{id}/cancel", h.Cancel)
	r.Post("/reservations/{id}/settle", h.Settle)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole("service", "admin"))
		r.Post("/grant", h.Grant)
		r.Post("/initialize", h.Initialize)
	})

	return r
}
