package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddlewareMintsCookie(t *testing.T) {
	var gotID string
	handler := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = AnonIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if !IsValidAnonID(gotID) {
		t.Errorf("Expected valid anon ID in context, got %q", gotID)
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName {
		t.Fatalf("Expected identity cookie to be set, got %v", cookies)
	}
	if cookies[0].Value != gotID {
		t.Errorf("Cookie value %q does not match context ID %q", cookies[0].Value, gotID)
	}
	if !cookies[0].HttpOnly {
		t.Error("Identity cookie must be HttpOnly")
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	var gotID string
	handler := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = AnonIDFromContext(r.Context())
	}))

	existing := "anon_" + strings.Repeat("ab", 16)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: existing})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if gotID != existing {
		t.Errorf("Expected existing ID reused, got %q", gotID)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("No new cookie should be set when a valid one exists")
	}
}

func TestMiddlewareReplacesMalformedCookie(t *testing.T) {
	var gotID string
	handler := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = AnonIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "'; DROP TABLE students;--"})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !IsValidAnonID(gotID) {
		t.Errorf("Malformed cookie must be replaced, got %q", gotID)
	}
}

func TestIsValidAnonID(t *testing.T) {
	if IsValidAnonID("anon_zzz") {
		t.Error("Short/invalid ID accepted")
	}
	if IsValidAnonID("") {
		t.Error("Empty ID accepted")
	}
	if !IsValidAnonID("anon_" + strings.Repeat("0f", 16)) {
		t.Error("Well-formed ID rejected")
	}
}
