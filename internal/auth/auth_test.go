package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	now := time.Now()

	token, expiresAt, err := m.IssueToken(42, "admin@example.com", now)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if want := now.Add(time.Hour); expiresAt.Unix() != want.Unix() {
		t.Errorf("expiresAt = %v, want %v", expiresAt, want)
	}

	adminID, err := m.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if adminID != 42 {
		t.Errorf("adminID = %d, want 42", adminID)
	}
}

func TestParseTokenRejectsBadTokens(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	now := time.Now()

	good, _, err := m.IssueToken(1, "admin@example.com", now)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	expired, _, err := NewManager("test-secret", -time.Minute).IssueToken(1, "admin@example.com", now)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	foreign, _, err := NewManager("other-secret", time.Hour).IssueToken(1, "admin@example.com", now)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.token"},
		{"tampered", good + "x"},
		{"expired", expired},
		{"wrong secret", foreign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.ParseToken(tt.token); err == nil {
				t.Error("ParseToken() = nil error, want failure")
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewManager("test-secret", time.Hour)

	r := gin.New()
	r.GET("/protected", m.Middleware(), func(c *gin.Context) {
		id := c.GetInt64(ContextAdminID)
		c.JSON(http.StatusOK, gin.H{"admin_id": id})
	})

	token, _, err := m.IssueToken(7, "admin@example.com", time.Now())
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
