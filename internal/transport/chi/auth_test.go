package chi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAuthMiddleware_EmptyKeys_PassThrough(t *testing.T) {
	handler := BearerAuthMiddleware(nil)(okHandler())

	rr := serve(handler, httptest.NewRequest("GET", "/v1/retrieve", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Errorf("empty keys: got %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_EmptyStringKeys_PassThrough(t *testing.T) {
	handler := BearerAuthMiddleware([]string{"", ""})(okHandler())

	rr := serve(handler, httptest.NewRequest("GET", "/v1/retrieve", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Errorf("empty string keys: got %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	handler := BearerAuthMiddleware([]string{"secret"})(okHandler())

	tests := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic c2VjcmV0",
		"wrong key":      "Bearer nope",
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/retrieve", http.NoBody)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rr := serve(handler, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("got %d, want %d", rr.Code, http.StatusUnauthorized)
			}
			var errResp errorResponse
			if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
				t.Fatalf("decode error response: %v", err)
			}
			if errResp.Code != codeUnauthorized {
				t.Errorf("code: got %q, want %q", errResp.Code, codeUnauthorized)
			}
		})
	}
}

func TestAuthMiddleware_ValidKey(t *testing.T) {
	handler := BearerAuthMiddleware([]string{"key1", "key2"})(okHandler())

	req := httptest.NewRequest("GET", "/v1/retrieve", http.NoBody)
	req.Header.Set("Authorization", "Bearer key2")
	if rr := serve(handler, req); rr.Code != http.StatusOK {
		t.Errorf("valid key: got %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_ExemptPaths(t *testing.T) {
	handler := BearerAuthMiddleware([]string{"secret"})(okHandler())

	for _, path := range []string{"/health", "/metrics"} {
		rr := serve(handler, httptest.NewRequest("GET", path, http.NoBody))
		if rr.Code != http.StatusOK {
			t.Errorf("%s: got %d, want %d", path, rr.Code, http.StatusOK)
		}
	}
}

func TestRequireUser(t *testing.T) {
	var seen string
	handler := RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ownerFrom(r.Context())
	}))

	req := httptest.NewRequest("GET", "/v1/retrieve", http.NoBody)
	if rr := serve(handler, req); rr.Code != http.StatusUnauthorized {
		t.Errorf("missing user: got %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	req.Header.Set(UserIDHeader, "../etc")
	if rr := serve(handler, req); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid user: got %d, want %d", rr.Code, http.StatusBadRequest)
	}

	req.Header.Set(UserIDHeader, "alice_01")
	if rr := serve(handler, req); rr.Code != http.StatusOK || seen != "alice_01" {
		t.Errorf("valid user: got %d, owner %q", rr.Code, seen)
	}
}
