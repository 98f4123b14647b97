package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(mw func(http.Handler) http.Handler, header, value string) int {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	rec := httptest.NewRecorder()
	mw(okHandler).ServeHTTP(rec, req)
	return rec.Code
}

func TestRequireAdmin_AllowsAdminKey_BlocksPublicKey(t *testing.T) {
	keys := Keys{
		Public: []string{"pub_key"},
		Admin:  []string{"adm_key"},
	}
	mw := RequireAdmin(keys)

	if code := serve(mw, "X-API-Key", "adm_key"); code != http.StatusOK {
		t.Fatalf("admin key should pass; got %d", code)
	}
	if code := serve(mw, "Authorization", "Bearer adm_key"); code != http.StatusOK {
		t.Fatalf("bearer admin key should pass; got %d", code)
	}
	if code := serve(mw, "X-API-Key", "pub_key"); code != http.StatusForbidden {
		t.Fatalf("public key should be forbidden; got %d", code)
	}
	if code := serve(mw, "", ""); code != http.StatusUnauthorized {
		t.Fatalf("missing key should be 401; got %d", code)
	}
}

func TestRequireAny(t *testing.T) {
	keys := Keys{Public: []string{"pub_key"}, Admin: []string{"adm_key"}}
	mw := RequireAny(keys)

	if code := serve(mw, "X-API-Key", "pub_key"); code != http.StatusOK {
		t.Fatalf("public key should pass; got %d", code)
	}
	if code := serve(mw, "X-API-Key", "adm_key"); code != http.StatusOK {
		t.Fatalf("admin key should pass; got %d", code)
	}
	if code := serve(mw, "X-API-Key", "nope"); code != http.StatusUnauthorized {
		t.Fatalf("unknown key should be 401; got %d", code)
	}
	// no keys configured: open
	if code := serve(RequireAny(Keys{}), "", ""); code != http.StatusOK {
		t.Fatalf("dev mode should pass; got %d", code)
	}
}
