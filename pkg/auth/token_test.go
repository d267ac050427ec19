package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/farmcart-backend/pkg/config"
	"github.com/angelmondragon/farmcart-backend/pkg/enums"
)

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "farmcart"}
	now := time.Now().UTC()
	userID := uuid.New()

	token, err := MintAccessToken(cfg, now, 30*time.Minute, userID, enums.RoleFarmer)
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	claims, err := ParseAccessToken(cfg, token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.UserID != userID {
		t.Fatalf("expected user_id %s, got %s", userID, claims.UserID)
	}
	if claims.Role != enums.RoleFarmer {
		t.Fatalf("unexpected role %s", claims.Role)
	}
	if claims.Issuer != cfg.Issuer {
		t.Fatalf("expected issuer %s, got %s", cfg.Issuer, claims.Issuer)
	}
}

func TestParseAccessTokenInvalidSignature(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "farmcart"}
	token, err := MintAccessToken(cfg, time.Now(), time.Minute, uuid.New(), enums.RoleBuyer)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ParseAccessToken(config.JWTConfig{Secret: "other", Issuer: "farmcart"}, token); err == nil {
		t.Fatal("expected signature mismatch to fail")
	}
}

func TestParseAccessTokenExpired(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "farmcart"}
	token, err := MintAccessToken(cfg, time.Now().Add(-2*time.Hour), time.Minute, uuid.New(), enums.RoleBuyer)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ParseAccessToken(cfg, token); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func TestParseAccessTokenRejectsUnknownRole(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "farmcart"}
	claims := AccessTokenClaims{
		UserID: uuid.New(),
		Role:   enums.Role("owner"),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "farmcart",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAccessToken(cfg, token); err == nil {
		t.Fatal("expected unknown role to be rejected")
	}
}

func TestMintRejectsInvalidInput(t *testing.T) {
	if _, err := MintAccessToken(config.JWTConfig{}, time.Now(), time.Minute, uuid.New(), enums.RoleBuyer); err == nil {
		t.Fatal("expected missing secret to fail")
	}
	if _, err := MintAccessToken(config.JWTConfig{Secret: "s"}, time.Now(), time.Minute, uuid.New(), enums.Role("x")); err == nil {
		t.Fatal("expected invalid role to fail")
	}
}
