package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

type stubValidator struct {
	userID uuid.UUID
	err    error
	token  string
}

func (s *stubValidator) ValidateToken(_ context.Context, token string) (uuid.UUID, error) {
	s.token = token
	if s.err != nil {
		return uuid.Nil, s.err
	}
	return s.userID, nil
}

func TestBearerAuth_MissingHeader(t *testing.T) {
	mw := BearerAuth(&stubValidator{userID: uuid.New()})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/account/me", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBearerAuth_InvalidToken(t *testing.T) {
	mw := BearerAuth(&stubValidator{err: errors.New("bad token")})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/account/me", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBearerAuth_SetsUserID(t *testing.T) {
	userID := uuid.New()
	sv := &stubValidator{userID: userID}
	mw := BearerAuth(sv)

	var got uuid.UUID
	var ok bool
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = UserIDFromCtx(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/account/me", nil)
	req.Header.Set("Authorization", "Bearer sometoken")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !ok || got != userID {
		t.Fatalf("context user id = %v (ok=%v), want %s", got, ok, userID)
	}
	if sv.token != "sometoken" {
		t.Errorf("validator saw token %q", sv.token)
	}
}

func TestBearerAuth_CaseInsensitiveScheme(t *testing.T) {
	userID := uuid.New()
	mw := BearerAuth(&stubValidator{userID: userID})
	reached := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/account/me", nil)
	req.Header.Set("Authorization", "bearer sometoken")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !reached {
		t.Fatal("handler not reached with lowercase scheme")
	}
}
