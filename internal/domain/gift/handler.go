package gift

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/storyforge/credits-api/internal/domain/credit"
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

type createRequest struct {
	RecipientEmail string `json:"recipient_email" validate:"omitempty,email"`
	OrderID        string `json:"order_id" validate:"omitempty,uuid"`
	CreditsAmount  int64  `json:"credits_amount" validate:"required,gt=0"`
	Message        string `json:"message" validate:"max=500"`
	ExpiresInHours int    `json:"expires_in_hours" validate:"omitempty,gt=0"`
}

type claimRequest struct {
	ClaimToken string `json:"claim_token" validate:"required"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	senderID := middleware.GetUserID(r.Context())
	if senderID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req createRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if details := validator.Struct(req); details != nil {
		response.ValidationError(w, details)
		return
	}

	input := CreateInput{
		SenderID:       senderID,
		RecipientEmail: req.RecipientEmail,
		CreditsAmount:  req.CreditsAmount,
		Message:        req.Message,
		ExpiresIn:      time.Duration(req.ExpiresInHours) * time.Hour,
	}
	if req.OrderID != "" {
		orderID, err := uuid.Parse(req.OrderID)
		if err != nil {
			response.BadRequest(w, "invalid order_id")
			return
		}
		input.OrderID = uuid.NullUUID{UUID: orderID, Valid: true}
	}

	g, err := h.svc.Create(r.Context(), input)
	if err != nil {
		h.writeError(w, err)
		return
	}

	// The claim token goes only to the sender, once, in this response.
	response.Created(w, map[string]any{
		"gift":        g,
		"claim_token": g.ClaimToken,
	})
}

func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req claimRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if details := validator.Struct(req); details != nil {
		response.ValidationError(w, details)
		return
	}

	result, err := h.svc.Claim(r.Context(), req.ClaimToken, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.OK(w, result)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	senderID := middleware.GetUserID(r.Context())
	if senderID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	giftID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid gift id")
		return
	}

	if err := h.svc.Cancel(r.Context(), giftID, senderID); err != nil {
		h.writeError(w, err)
		return
	}

	response.NoContent(w)
}

func (h *Handler) ListMy(w http.ResponseWriter, r *http.Request) {
	senderID := middleware.GetUserID(r.Context())
	if senderID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	gifts, err := h.svc.ListBySender(r.Context(), senderID, limit, offset)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, gifts)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrGiftNotFound):
		response.NotFound(w, "gift not found")
	case errors.Is(err, ErrAlreadyClaimed):
		response.Conflict(w, "gift already claimed")
	case errors.Is(err, ErrGiftExpired):
		response.Conflict(w, "gift expired")
	case errors.Is(err, ErrSelfClaim):
		response.Conflict(w, "cannot claim your own gift")
	case errors.Is(err, ErrNotPending):
		response.Conflict(w, "gift is not pending")
	case errors.Is(err, ErrInvalidInput):
		response.BadRequest(w, err.Error())
	case errors.Is(err, credit.ErrInsufficientCredits), errors.Is(err, credit.ErrAccountNotFound):
		response.Error(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS", "not enough credits to fund this gift")
	default:
		response.InternalError(w)
	}
}

// Routes wires authenticated gift endpoints.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/", h.Create)
	r.Get("/", h.ListMy)
	r.Post("/claim", h.Claim)
	r.Delete("/{id}", h.Cancel)
	return r
}
