package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/harrisonrobin/dayblock/pkg/logx"
)

const credentials = `{"installed":{"client_id":"id.apps.googleusercontent.com","client_secret":"s",
"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token",
"redirect_uris":["http://localhost"]}}`

func TestNormalizeRedirect(t *testing.T) {
	cases := map[string]string{
		"http://localhost":                     "http://localhost:6789",
		"http://127.0.0.1:8080/cb":             "http://127.0.0.1:6789/cb",
		"urn:ietf:wg:oauth:2.0:oob":            "http://localhost:6789/oauth2callback",
		"https://example.com/oauth2callback":   "https://example.com/oauth2callback",
		"http://localhost:6789/oauth2callback": "http://localhost:6789/oauth2callback",
	}
	for in, want := range cases {
		if got := normalizeRedirect(in, logx.Nop()); got != want {
			t.Errorf("normalizeRedirect(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestClientRequiresTokenWhenNotInteractive(t *testing.T) {
	dir := t.TempDir()
	creds := filepath.Join(dir, "credentials.json")
	if err := os.WriteFile(creds, []byte(credentials), 0600); err != nil {
		t.Fatal(err)
	}
	f := NewFlow(dir, creds, logx.Nop())
	cfg, err := f.Config([]string{"scope"})
	if err != nil {
		t.Fatalf("Config failed: %v", err)
	}
	if cfg.RedirectURL != "http://localhost:6789" {
		t.Errorf("Expected pinned redirect, got %s", cfg.RedirectURL)
	}
	if _, err := f.Client(context.Background(), []string{"scope"}); !errors.Is(err, ErrNoToken) {
		t.Errorf("Expected ErrNoToken, got %v", err)
	}

	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}
	if err := saveToken(f.TokenPath, tok); err != nil {
		t.Fatalf("saveToken failed: %v", err)
	}
	if _, err := f.Client(context.Background(), []string{"scope"}); err != nil {
		t.Errorf("Expected client from cached token, got %v", err)
	}
}

func TestPersistingSourceSavesRefreshedToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "token.json")
	old := &oauth2.Token{AccessToken: "old"}
	src := &persistingSource{
		base: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "new", RefreshToken: "r"}),
		last: old,
		path: path,
		log:  logx.Nop(),
	}
	if _, err := src.Token(); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	saved, err := tokenFromFile(path)
	if err != nil {
		t.Fatalf("tokenFromFile failed: %v", err)
	}
	if saved.AccessToken != "new" {
		t.Errorf("Expected saved access token new, got %s", saved.AccessToken)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600, got %v", info.Mode().Perm())
	}
}

func TestCallbackHandler(t *testing.T) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	h := callbackHandler("st", codeCh, errCh)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth2callback?state=bad&code=x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 on state mismatch, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth2callback?state=st&code=abc", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	select {
	case code := <-codeCh:
		if code != "abc" {
			t.Errorf("Expected abc, got %s", code)
		}
	default:
		t.Error("Expected code on channel")
	}
}
