package oidc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/al-bashkir/demo-sessiond/internal/config"
)

func newTestIssuer(t *testing.T, tokenRequests *atomic.Int32) string {
	t.Helper()

	var baseURL string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		issuer := baseURL + "/realms/test"

		switch r.URL.Path {
		case "/realms/test/.well-known/openid-configuration":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{
				"issuer":                 issuer,
				"authorization_endpoint": issuer + "/auth",
				"token_endpoint":         issuer + "/token",
				"jwks_uri":               issuer + "/keys",
			})
		case "/realms/test/token":
			tokenRequests.Add(1)
			if err := r.ParseForm(); err != nil {
				http.Error(w, "bad form", http.StatusBadRequest)
				return
			}
			if r.PostForm.Get("grant_type") != "client_credentials" {
				http.Error(w, "unsupported grant", http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "service-token",
				"token_type":   "Bearer",
				"expires_in":   300,
			})
		case "/api/echo":
			_, _ = w.Write([]byte(r.Header.Get("Authorization")))
		default:
			http.NotFound(w, r)
		}
	}))
	baseURL = ts.URL
	t.Cleanup(ts.Close)

	return baseURL + "/realms/test"
}

func TestNewProviderDiscoversTokenEndpoint(t *testing.T) {
	var requests atomic.Int32
	issuer := newTestIssuer(t, &requests)

	p, err := NewProvider(context.Background(), &config.RemoteConfig{
		Issuer:       issuer,
		ClientID:     "demo-sessiond",
		ClientSecret: "secret",
		Scopes:       []string{"demo.validate"},
	})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	if p.TokenURL() != issuer+"/token" {
		t.Fatalf("TokenURL = %q, want %q", p.TokenURL(), issuer+"/token")
	}
}

func TestTokenSourceUsesClientCredentials(t *testing.T) {
	var requests atomic.Int32
	issuer := newTestIssuer(t, &requests)

	p, err := NewProvider(context.Background(), &config.RemoteConfig{
		Issuer:       issuer,
		ClientID:     "demo-sessiond",
		ClientSecret: "secret",
	})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	ts := p.TokenSource(context.Background())
	for i := 0; i < 3; i++ {
		tok, err := ts.Token()
		if err != nil {
			t.Fatalf("Token failed: %v", err)
		}
		if tok.AccessToken != "service-token" {
			t.Fatalf("AccessToken = %q, want %q", tok.AccessToken, "service-token")
		}
	}

	// Tokens are cached until expiry
	if got := requests.Load(); got != 1 {
		t.Fatalf("token endpoint called %d times, want 1", got)
	}
}

func TestHTTPClientAttachesBearerToken(t *testing.T) {
	var requests atomic.Int32
	issuer := newTestIssuer(t, &requests)

	p, err := NewProvider(context.Background(), &config.RemoteConfig{
		Issuer:       issuer,
		ClientID:     "demo-sessiond",
		ClientSecret: "secret",
	})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	client := p.HTTPClient(context.Background(), nil)
	echoURL := strings.TrimSuffix(issuer, "/realms/test") + "/api/echo"

	resp, err := client.Get(echoURL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	if string(body) != "Bearer service-token" {
		t.Fatalf("Authorization = %q, want %q", body, "Bearer service-token")
	}
}

func TestNewProviderErrors(t *testing.T) {
	if _, err := NewProvider(context.Background(), &config.RemoteConfig{}); err == nil {
		t.Fatal("expected error for empty issuer")
	}

	ts := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(ts.Close)

	_, err := NewProvider(context.Background(), &config.RemoteConfig{
		Issuer:       ts.URL + "/realms/missing",
		ClientID:     "demo-sessiond",
		ClientSecret: "secret",
	})
	if err == nil {
		t.Fatal("expected discovery error")
	}
	if !strings.Contains(err.Error(), "failed to create OIDC provider") {
		t.Fatalf("unexpected error: %v", err)
	}
}
