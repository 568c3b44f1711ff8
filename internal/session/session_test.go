package session_test

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/GreenLedger/internal/catalog"
	"github.com/jmerrifield20/GreenLedger/internal/session"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func key(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatal(err)
		}
		testKey = k
	})
	return testKey
}

func TestKeyManager_LoadOrCreate_idempotent(t *testing.T) {
	dir := t.TempDir()
	km1 := session.NewKeyManager(dir)
	if err := km1.LoadOrCreate(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "session.key")); err != nil {
		t.Fatalf("expected key file: %v", err)
	}

	km2 := session.NewKeyManager(dir)
	if err := km2.LoadOrCreate(); err != nil {
		t.Fatal(err)
	}
	if !km1.Key().Equal(km2.Key()) {
		t.Error("second LoadOrCreate must reload the same key")
	}
	pub, err := km2.PublicKeyPEM()
	if err != nil || len(pub) == 0 {
		t.Errorf("PublicKeyPEM: %v", err)
	}
}

func TestKeyManager_Load_missing(t *testing.T) {
	if err := session.NewKeyManager(t.TempDir()).Load(); err == nil {
		t.Error("expected error loading a missing key")
	}
}

func TestIssuer_actorRoundTrip(t *testing.T) {
	iss := session.NewIssuer(key(t), time.Hour)
	tok, err := iss.IssueActor("Thermal", "roast master")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := iss.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Type != session.TypeActor || claims.Category != "thermal" || claims.Role != "Roast Master" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if !claims.CanAccess("thermal") || claims.CanAccess("mixing") || claims.IsAdmin() {
		t.Error("actor access rules violated")
	}
	if claims.ID == "" {
		t.Error("expected a jti")
	}
}

func TestIssuer_rejectsRoleOutsideCategory(t *testing.T) {
	iss := session.NewIssuer(key(t), time.Hour)
	if _, err := iss.IssueActor("thermal", "Mix Operator"); !errors.Is(err, catalog.ErrUnknownRole) {
		t.Errorf("expected ErrUnknownRole, got %v", err)
	}
	if _, err := iss.IssueActor("forging", "Smith"); !errors.Is(err, catalog.ErrUnknownCategory) {
		t.Errorf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestIssuer_expiry(t *testing.T) {
	mock := clock.NewMock()
	mock.Add(time.Since(time.Unix(0, 0)))
	iss := session.NewIssuer(key(t), time.Hour)
	iss.SetClock(mock)

	tok, err := iss.IssueAdmin("admin@example.com")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := iss.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if !claims.IsAdmin() || !claims.CanAccess("anything") {
		t.Errorf("unexpected admin claims: %+v", claims)
	}

	mock.Add(2 * time.Hour)
	if _, err := iss.Verify(tok); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestIssuer_foreignKeyRejected(t *testing.T) {
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := session.NewIssuer(other, time.Hour).IssueAdmin("x@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := session.NewIssuer(key(t), time.Hour).Verify(tok); err == nil {
		t.Error("token signed by another key must be rejected")
	}
}

func TestAdmin_Authenticate(t *testing.T) {
	hash, err := session.HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	a := session.NewAdmin("Admin@Example.com", hash)

	tests := []struct {
		name, email, password string
		ok                    bool
	}{
		{"correct", "admin@example.com", "s3cret", true},
		{"email case-insensitive", " ADMIN@example.com ", "s3cret", true},
		{"wrong password", "admin@example.com", "nope", false},
		{"wrong email", "other@example.com", "s3cret", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := a.Authenticate(tc.email, tc.password)
			if tc.ok && err != nil {
				t.Errorf("expected success, got %v", err)
			}
			if !tc.ok && !errors.Is(err, session.ErrInvalidCredentials) {
				t.Errorf("expected ErrInvalidCredentials, got %v", err)
			}
		})
	}

	if session.NewAdmin("admin@example.com", "").Enabled() {
		t.Error("admin without a hash must be disabled")
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	iss := session.NewIssuer(key(t), time.Hour)
	actorTok, _ := iss.IssueActor("mixing", "QC Analyst")
	adminTok, _ := iss.IssueAdmin("admin@example.com")

	r := gin.New()
	r.GET("/actor", session.RequireActor(iss), func(c *gin.Context) {
		c.String(http.StatusOK, session.ClaimsFromCtx(c).Role)
	})
	r.GET("/admin", session.RequireAdmin(iss), func(c *gin.Context) {
		c.String(http.StatusOK, session.ClaimsFromCtx(c).Email)
	})

	tests := []struct {
		path, token string
		want        int
	}{
		{"/actor", "", http.StatusUnauthorized},
		{"/actor", "garbage", http.StatusUnauthorized},
		{"/actor", actorTok, http.StatusOK},
		{"/actor", adminTok, http.StatusOK},
		{"/admin", actorTok, http.StatusForbidden},
		{"/admin", adminTok, http.StatusOK},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.token != "" {
			req.Header.Set("Authorization", "Bearer "+tc.token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Errorf("%s with token %.10q: got %d, want %d", tc.path, tc.token, w.Code, tc.want)
		}
	}
}
