package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/loanpilot/loanpilot/internal/shared"
)

type fakeChecker struct {
	allow map[int64]bool
	roles map[int64]string
}

func (f *fakeChecker) Can(ctx context.Context, userID int64, resourceType, action string, scope *Scope) bool {
	return f.allow[userID]
}

func (f *fakeChecker) HasRole(ctx context.Context, userID int64, name string) bool {
	return f.roles[userID] == name
}

func TestRequirePermission(t *testing.T) {
	checker := &fakeChecker{allow: map[int64]bool{7: true, 8: false}}
	var reached bool
	handler := RequirePermission(checker, "loan_application", "approve")(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reached = true
			w.WriteHeader(http.StatusOK)
		}))

	cases := []struct {
		name       string
		actorID    int64
		wantStatus int
		wantReach  bool
	}{
		{"no actor", 0, http.StatusUnauthorized, false},
		{"denied actor", 8, http.StatusForbidden, false},
		{"allowed actor", 7, http.StatusOK, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reached = false
			req := httptest.NewRequest(http.MethodPost, "/applications/1/approve", nil)
			if tc.actorID != 0 {
				req = req.WithContext(shared.ContextWithActor(req.Context(), tc.actorID))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if reached != tc.wantReach {
				t.Fatalf("handler reached = %v, want %v", reached, tc.wantReach)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	checker := &fakeChecker{roles: map[int64]string{7: "admin"}}
	handler := RequireRole(checker, "admin")(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), 7))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for role holder, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), 9))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-holder, got %d", rec.Code)
	}
}

func TestActorMiddlewareParsesHeader(t *testing.T) {
	var got int64
	var ok bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = shared.ActorFromContext(r.Context())
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(shared.ActorHeader, strconv.FormatInt(42, 10))
	shared.ActorMiddleware(inner).ServeHTTP(httptest.NewRecorder(), req)
	if !ok || got != 42 {
		t.Fatalf("expected actor 42, got %d (ok=%v)", got, ok)
	}
}
