package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type testAuthenticator struct {
	identity Identity
	err      error
	calls    int
}

func (a *testAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	a.calls++
	return a.identity, a.err
}

func denyBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return body
}

func TestMiddleware_MissingCredential(t *testing.T) {
	authn := &testAuthenticator{err: ErrNoCredential}
	called := false
	h := Middleware{
		Authenticator: authn,
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.test/runs", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called {
		t.Fatalf("handler should not be called")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	body := denyBody(t, rec)
	if body["error"] != "unauthorized" {
		t.Fatalf("error=%v, want unauthorized", body["error"])
	}
	if body["request_id"] != "rid-1" {
		t.Fatalf("request_id=%v, want rid-1", body["request_id"])
	}
}

func TestMiddleware_MalformedCredentialIsBadRequest(t *testing.T) {
	authn := &testAuthenticator{err: ErrMalformedCredential}
	h := Middleware{Authenticator: authn}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.test/runs", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
	if body := denyBody(t, rec); body["error"] != "bad_request" {
		t.Fatalf("error=%v, want bad_request", body["error"])
	}
}

func TestMiddleware_ExpiredCredential(t *testing.T) {
	authn := &testAuthenticator{err: ErrExpiredCredential}
	h := Middleware{Authenticator: authn}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.test/runs", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	if body := denyBody(t, rec); body["error"] != "expired" {
		t.Fatalf("error=%v, want expired", body["error"])
	}
}

func TestMiddleware_UnknownErrorIsInvalidToken(t *testing.T) {
	authn := &testAuthenticator{err: errors.New("boom")}
	h := Middleware{Authenticator: authn}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.test/runs", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	if body := denyBody(t, rec); body["error"] != "invalid_token" {
		t.Fatalf("error=%v, want invalid_token", body["error"])
	}
}

func TestMiddleware_PassesIdentity(t *testing.T) {
	authn := &testAuthenticator{identity: Identity{Subject: "internal", Internal: true}}
	var seen Identity
	h := Middleware{Authenticator: authn}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.test/runs", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if !seen.Internal || seen.Subject != "internal" {
		t.Fatalf("identity=%+v, want internal", seen)
	}
}

func TestMiddleware_SkipPrefixes(t *testing.T) {
	authn := &testAuthenticator{err: ErrNoCredential}
	h := Middleware{
		Authenticator: authn,
		SkipPrefixes:  []string{"/health"},
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.test/healthy", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if authn.calls != 0 {
		t.Fatalf("authenticator called %d times on a skipped path", authn.calls)
	}
}

func TestMiddleware_AuditReceivesDeny(t *testing.T) {
	authn := &testAuthenticator{err: ErrExpiredCredential}
	var audited DenyEvent
	h := Middleware{
		Authenticator: authn,
		Audit: func(ctx context.Context, event DenyEvent) error {
			audited = event
			return nil
		},
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "http://example.test/run/7/checkout", nil)
	req.Header.Set("X-Request-Id", "rid-9")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if audited.Reason != "expired" || audited.Status != http.StatusUnauthorized {
		t.Fatalf("audited=%+v", audited)
	}
	if audited.Method != http.MethodPost || audited.Path != "/run/7/checkout" {
		t.Fatalf("audited=%+v", audited)
	}
	if audited.RequestID != "rid-9" {
		t.Fatalf("request_id=%q, want rid-9", audited.RequestID)
	}
}
