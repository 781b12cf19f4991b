package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestValidator(t *testing.T, now time.Time) *AdminValidator {
	t.Helper()
	validator, err := NewAdminValidator(AdminValidatorConfig{
		SigningSecret: []byte(testAdminSigningSecret),
		Issuer:        testAdminIssuer,
		Clock: func() time.Time {
			return now
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func mintToken(t *testing.T, secret string, claims AdminClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestAdminValidatorAcceptsIssuedToken(t *testing.T) {
	clockNow := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testAdminSigningSecret),
		Issuer:        testAdminIssuer,
		Clock: func() time.Time {
			return clockNow
		},
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	token, _, err := issuer.IssueAdminToken("ops")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	validator := newTestValidator(t, clockNow.Add(time.Minute))
	request := httptest.NewRequest(http.MethodPost, "/admin/reconcile", http.NoBody)
	request.Header.Set("Authorization", "Bearer "+token)
	claims, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.Subject != "ops" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
}

func TestAdminValidatorRejections(t *testing.T) {
	clockNow := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	validClaims := func() AdminClaims {
		return AdminClaims{
			Roles: []string{RoleAdmin},
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    testAdminIssuer,
				Subject:   "ops",
				IssuedAt:  jwt.NewNumericDate(clockNow.Add(-time.Minute)),
				ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
			},
		}
	}
	testCases := []struct {
		name    string
		token   func() string
		wantErr error
	}{
		{
			name:    "empty",
			token:   func() string { return "" },
			wantErr: ErrMissingAdminToken,
		},
		{
			name: "expired",
			token: func() string {
				claims := validClaims()
				claims.ExpiresAt = jwt.NewNumericDate(clockNow.Add(-time.Second))
				return mintToken(t, testAdminSigningSecret, claims)
			},
			wantErr: ErrExpiredAdminToken,
		},
		{
			name: "wrong-secret",
			token: func() string {
				return mintToken(t, "other-secret", validClaims())
			},
			wantErr: ErrInvalidAdminToken,
		},
		{
			name: "wrong-issuer",
			token: func() string {
				claims := validClaims()
				claims.Issuer = "someone-else"
				return mintToken(t, testAdminSigningSecret, claims)
			},
			wantErr: ErrInvalidAdminToken,
		},
		{
			name: "missing-role",
			token: func() string {
				claims := validClaims()
				claims.Roles = []string{"player"}
				return mintToken(t, testAdminSigningSecret, claims)
			},
			wantErr: ErrForbiddenAdminToken,
		},
	}

	validator := newTestValidator(t, clockNow)
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := validator.ValidateToken(testCase.token())
			if !errors.Is(err, testCase.wantErr) {
				t.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestAdminValidatorRequestWithoutBearer(t *testing.T) {
	validator := newTestValidator(t, time.Now())
	request := httptest.NewRequest(http.MethodPost, "/admin/reconcile", http.NoBody)
	request.Header.Set("Authorization", "Basic abc")
	if _, err := validator.ValidateRequest(request); !errors.Is(err, ErrMissingAdminToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}
