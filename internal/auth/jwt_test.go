package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testIssuer   = "docsignal"
	testAudience = "docsignal-admin"
)

func generateKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey() error = %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return key, string(pubPEM)
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"sub": "operator-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

func TestNewJWTValidator(t *testing.T) {
	_, pubPEM := generateKeyPair(t)

	if _, err := NewJWTValidator(pubPEM, testIssuer, testAudience); err != nil {
		t.Errorf("NewJWTValidator() with PKIX key error = %v", err)
	}
	if _, err := NewJWTValidator("not pem at all", testIssuer, testAudience); err == nil {
		t.Errorf("NewJWTValidator() with garbage input: want error, got nil")
	}
}

func TestValidateToken(t *testing.T) {
	key, pubPEM := generateKeyPair(t)
	otherKey, _ := generateKeyPair(t)
	v, err := NewJWTValidator(pubPEM, testIssuer, testAudience)
	if err != nil {
		t.Fatalf("NewJWTValidator() error = %v", err)
	}

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "someone-else"
	wrongAudience := validClaims()
	wrongAudience["aud"] = "other-api"
	noSubject := validClaims()
	delete(noSubject, "sub")

	tests := []struct {
		name    string
		token   string
		wantSub string
		wantErr bool
	}{
		{"valid token", signToken(t, key, validClaims()), "operator-1", false},
		{"expired", signToken(t, key, expired), "", true},
		{"wrong issuer", signToken(t, key, wrongIssuer), "", true},
		{"wrong audience", signToken(t, key, wrongAudience), "", true},
		{"missing subject", signToken(t, key, noSubject), "", true},
		{"wrong key", signToken(t, otherKey, validClaims()), "", true},
		{"not a token", "abc.def.ghi", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := v.ValidateToken(tt.token)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if sub != tt.wantSub {
				t.Errorf("ValidateToken() sub = %q, want %q", sub, tt.wantSub)
			}
		})
	}
}

func TestValidateTokenRejectsHMAC(t *testing.T) {
	_, pubPEM := generateKeyPair(t)
	v, err := NewJWTValidator(pubPEM, testIssuer, testAudience)
	if err != nil {
		t.Fatalf("NewJWTValidator() error = %v", err)
	}

	// A token signed with HS256 must not pass even with matching claims.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
	s, err := token.SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	if _, err := v.ValidateToken(s); err == nil {
		t.Errorf("ValidateToken() accepted an HMAC-signed token")
	}
}

func TestHTTPMiddleware(t *testing.T) {
	key, pubPEM := generateKeyPair(t)
	v, err := NewJWTValidator(pubPEM, testIssuer, testAudience)
	if err != nil {
		t.Fatalf("NewJWTValidator() error = %v", err)
	}

	var gotOperator string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOperator = OperatorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := v.HTTPMiddleware(inner)

	tests := []struct {
		name       string
		path       string
		authHeader string
		wantStatus int
	}{
		{"valid bearer token", "/v1/deliveries", "Bearer " + signToken(t, key, validClaims()), http.StatusOK},
		{"missing header", "/v1/deliveries", "", http.StatusUnauthorized},
		{"wrong scheme", "/v1/deliveries", "Basic abc", http.StatusUnauthorized},
		{"bad token", "/v1/deliveries", "Bearer nope", http.StatusUnauthorized},
		{"healthz open", "/healthz", "", http.StatusOK},
		{"metrics open", "/metrics", "", http.StatusOK},
		{"ping open", "/v1/ping", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotOperator = ""
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.name == "valid bearer token" && gotOperator != "operator-1" {
				t.Errorf("operator in context = %q, want operator-1", gotOperator)
			}
		})
	}
}
