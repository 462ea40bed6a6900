package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func identityProbe(got *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = UserIDFromContext(r.Context())
	})
}

func TestMiddlewareMintsIdentityWhenCookieMissing(t *testing.T) {
	var got string
	h := Middleware(true)(identityProbe(&got))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if !isValidAnonID(got) {
		t.Errorf("Expected a minted anon ID on the context, got %q", got)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == AnonCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("Expected identity cookie to be set")
	}
	if cookie.Value != got {
		t.Errorf("Cookie value %q does not match context value %q", cookie.Value, got)
	}
	if !cookie.HttpOnly {
		t.Error("Identity cookie must be HttpOnly")
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	var got string
	h := Middleware(true)(identityProbe(&got))

	const existing = "anon_0123456789abcdef0123456789abcdef"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: existing})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got != existing {
		t.Errorf("Expected existing identity reused, got %q", got)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("No new cookie should be issued for a valid identity")
	}
}

func TestMiddlewareReplacesMalformedCookie(t *testing.T) {
	var got string
	h := Middleware(true)(identityProbe(&got))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "'; DROP TABLE sessions;--"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !isValidAnonID(got) {
		t.Errorf("Expected fresh identity for malformed cookie, got %q", got)
	}
	if got == "'; DROP TABLE sessions;--" {
		t.Error("Malformed cookie value must not be accepted")
	}
}

func TestMiddlewareSecureFlagOutsideDevelopment(t *testing.T) {
	var got string
	h := Middleware(false)(identityProbe(&got))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for _, c := range rec.Result().Cookies() {
		if c.Name == AnonCookieName && !c.Secure {
			t.Error("Identity cookie must be Secure outside development")
		}
	}
}

func TestUserIDFromContextEmptyWithoutValue(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := UserIDFromContext(req.Context()); got != "" {
		t.Errorf("Expected empty user ID, got %q", got)
	}
}
