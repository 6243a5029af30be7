package audit

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/storyforge/credits-api/internal/middleware"
	"github.com/storyforge/credits-api/internal/pkg/response"
)

type Handler struct {
	db *sqlx.DB
}

func NewHandler(db *sqlx.DB) *Handler {
	return &Handler{db: db}
}

// ListMy returns the caller's own audit trail, newest first.
func (h *Handler) ListMy(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := ListByUser(r.Context(), h.db, userID, limit)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, entries)
}

// ListForUser returns another user's audit trail; support tooling only.
func (h *Handler) ListForUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		response.BadRequest(w, "invalid user id")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := ListByUser(r.Context(), h.db, userID, limit)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, entries)
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.ListMy)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole("service", "admin"))
		r.Get("/users/{userID}", h.ListForUser)
	})
	return r
}
