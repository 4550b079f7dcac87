package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/infrastructure/auth"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/usecase"
)

func TestAuthMiddleware(t *testing.T) {
	manager := auth.NewJWTManager("secret", time.Hour)
	token, err := manager.Generate("1011226111", "testuser")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "valid token", header: "Bearer " + token, wantStatus: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + token, wantStatus: http.StatusOK},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer not-a-jwt", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var account, forwarded string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				account = usecase.AuthenticatedAccountFromContext(r.Context())
				forwarded = usecase.BearerTokenFromContext(r.Context())
			})

			req := httptest.NewRequest(http.MethodGet, "/get_balance", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()

			AuthMiddleware(manager)(next).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rr.Code)
			}
			if tt.wantStatus == http.StatusOK {
				if account != "1011226111" {
					t.Fatalf("expected account claim in context, got %q", account)
				}
				if forwarded != token {
					t.Fatal("expected raw token in context")
				}
			}
		})
	}
}
