package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestNewInstanceGuard はInstanceGuardの生成をテストする。
func TestNewInstanceGuard(t *testing.T) {
	guard := NewInstanceGuard()
	if guard == nil {
		t.Fatal("NewInstanceGuard() returned nil")
	}
}

// TestNewSafeClientTimeout はタイムアウト設定が反映されることをテストする。
func TestNewSafeClientTimeout(t *testing.T) {
	guard := NewInstanceGuard()
	timeout := 5 * time.Second
	client := guard.NewSafeClient(timeout)
	if client.Timeout != timeout {
		t.Errorf("expected timeout %v, got %v", timeout, client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport to be set")
	}
}

// TestNewSafeClientBlocksLoopback はSafeClientがループバックへのリクエストをブロックすることをテストする。
func TestNewSafeClientBlocksLoopback(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewInstanceGuard().NewSafeClient(5 * time.Second)

	_, err := client.Get(ts.URL)
	if err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

// TestValidateHost_PublicHosts は公開サーバーのホスト名が許可されることをテストする。
func TestValidateHost_PublicHosts(t *testing.T) {
	guard := NewInstanceGuard()

	hosts := []string{
		"mastodon.social",
		"example.social",
		"fosstodon.org",
		"93.184.216.34",
	}

	for _, h := range hosts {
		t.Run(h, func(t *testing.T) {
			if err := guard.ValidateHost(h); err != nil {
				t.Errorf("ValidateHost(%q) returned error: %v", h, err)
			}
		})
	}
}

// TestValidateHost_Rejected は危険または不正なホスト指定が拒否されることをテストする。
func TestValidateHost_Rejected(t *testing.T) {
	guard := NewInstanceGuard()

	hosts := []string{
		"",
		"localhost",
		"printer.local",
		"metadata.google.internal",
		"127.0.0.1",
		"10.1.2.3",
		"169.254.169.254",
		"192.168.0.10",
		"https://mastodon.social",
		"mastodon.social:8443",
		"mastodon.social/about",
		"user@mastodon.social",
		"intranet",
	}

	for _, h := range hosts {
		t.Run(h, func(t *testing.T) {
			if err := guard.ValidateHost(h); err == nil {
				t.Errorf("ValidateHost(%q) should return error", h)
			}
		})
	}
}

// TestInstanceGuardInterface はinstanceGuardがInstanceGuardServiceを満たすことを検証する。
func TestInstanceGuardInterface(t *testing.T) {
	var _ InstanceGuardService = NewInstanceGuard()
}
