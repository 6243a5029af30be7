package credit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/storyforge/credits-api/internal/domain/audit"
	"github.com/storyforge/credits-api/internal/domain/credit"
	"github.com/storyforge/credits-api/internal/middleware"
)

func TestInitializeDefaultsToSignupBonus(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(db)

	service := newTestService(db)
	handler := credit.NewHandler(service, 50)
	userID := uuid.New()

	body, _ := json.Marshal(map[string]any{"user_id": userID})
	req := newServiceRequest(http.MethodPost, "/initialize", body)
	rec := httptest.NewRecorder()
	handler.Initialize(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	requireBalance(t, service, userID, 50, 0)
}

func TestInitializeExplicitBalanceOverridesBonus(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(db)

	service := newTestService(db)
	handler := credit.NewHandler(service, 50)
	userID := uuid.New()

	body, _ := json.Marshal(map[string]any{"user_id": userID, "starting_balance": 0})
	req := newServiceRequest(http.MethodPost, "/initialize", body)
	rec := httptest.NewRecorder()
	handler.Initialize(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	// An explicit zero means zero, not the configured bonus.
	requireBalance(t, service, userID, 0, 0)
}

func TestAuditEndpointListsOwnEntries(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(db)

	service := newTestService(db)
	userID := uuid.New()

	_, err := service.Initialize(context.Background(), userID, 100)
	requireNoError(t, err)
	res, err := service.Reserve(context.Background(), userID, 10, "story generation", nil)
	requireNoError(t, err)
	_, err = service.Cancel(context.Background(), res.TransactionID, "changed mind")
	requireNoError(t, err)

	handler := audit.NewHandler(db)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
	rec := httptest.NewRecorder()
	handler.ListMy(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var envelope struct {
		Success bool          `json:"success"`
		Data    []audit.Entry `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(envelope.Data) != 3 {
		t.Fatalf("expected 3 audit entries, got %d", len(envelope.Data))
	}
	seen := map[string]bool{}
	for _, e := range envelope.Data {
		if e.UserID != userID {
			t.Fatalf("entry for wrong user: %s", e.UserID)
		}
		seen[e.Action] = true
	}
	for _, want := range []string{audit.ActionInitialize, audit.ActionReserve, audit.ActionCancel} {
		if !seen[want] {
			t.Fatalf("missing audit action %s in %v", want, seen)
		}
	}
}

func newServiceRequest(method, target string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	ctx := context.WithValue(req.Context(), middleware.UserIDKey, uuid.New())
	ctx = context.WithValue(ctx, middleware.RoleKey, "service")
	return req.WithContext(ctx)
}
