package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/farmcart-backend/pkg/auth"
	"github.com/angelmondragon/farmcart-backend/pkg/config"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "farmcart-identity"}

func mintTestToken(t *testing.T, userID uuid.UUID, role enums.Role) string {
	t.Helper()
	token, err := auth.MintAccessToken(testJWT, time.Now(), time.Hour, userID, role)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	Auth(testJWT, nil)(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	Auth(testJWT, nil)(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsForeignIssuer(t *testing.T) {
	token, err := auth.MintAccessToken(config.JWTConfig{Secret: "secret", Issuer: "someone-else"}, time.Now(), time.Hour, uuid.New(), enums.RoleBuyer)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	Auth(testJWT, nil)(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthSeedsActor(t *testing.T) {
	userID := uuid.New()
	token := mintTestToken(t, userID, enums.RoleFarmer)

	var captured auth.Actor
	var ok bool
	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, ok = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !ok {
		t.Fatal("expected actor in context")
	}
	if captured.UserID != userID || captured.Role != enums.RoleFarmer {
		t.Fatalf("unexpected actor %+v", captured)
	}
}

func TestRequireRole(t *testing.T) {
	mw := RequireRole(nil, enums.RoleFarmer, enums.RoleAdmin)

	cases := []struct {
		role enums.Role
		want int
	}{
		{enums.RoleFarmer, http.StatusOK},
		{enums.RoleAdmin, http.StatusOK},
		{enums.RoleBuyer, http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithActor(req.Context(), auth.Actor{UserID: uuid.New(), Role: tc.role}))
		resp := httptest.NewRecorder()
		mw(okHandler()).ServeHTTP(resp, req)
		if resp.Code != tc.want {
			t.Fatalf("role %s: expected %d got %d", tc.role, tc.want, resp.Code)
		}
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{header: "Bearer abc", want: "abc"},
		{header: "bearer   abc ", want: "abc"},
		{header: "", wantErr: true},
		{header: "abc", wantErr: true},
		{header: "Basic dXNlcjpwYXNz", wantErr: true},
		{header: "Bearer ", wantErr: true},
	}
	for _, tc := range cases {
		got, err := bearerToken(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("bearerToken(%q) expected error", tc.header)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("bearerToken(%q) = %q, %v; want %q", tc.header, got, err, tc.want)
		}
	}
}
