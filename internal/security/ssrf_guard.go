// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// InstanceGuardService はユーザーが指定したMastodonサーバーへのアクセス制御のインターフェース。
// ログイン時のサーバー指定、タイムライン取得、RSSプレビューの全てで使用される。
type InstanceGuardService interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// safeurlライブラリにより、プライベートIP、ループバック、リンクローカル、
	// メタデータIPへのリクエストが自動的にブロックされる。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateHost はサーバーのホスト名を静的に検証する。
	ValidateHost(host string) error
}

// blockedNetworks はSSRF防止でブロックされるネットワーク範囲。
// パッケージ初期化時に1回だけパースする。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック (RFC 1122)
		"127.0.0.0/8",
		// リンクローカル (RFC 3927) - クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		// カレントネットワーク
		"0.0.0.0/8",
		// IPv6ループバック
		"::1/128",
		// IPv6リンクローカル
		"fe80::/10",
		// IPv6ユニークローカル
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// blockedHostSuffixes はブロック対象のホスト名（完全一致またはサフィックス一致）。
var blockedHostSuffixes = []string{
	"localhost",
	".local",
	".internal",
}

// instanceGuard はInstanceGuardServiceの実装。
type instanceGuard struct{}

// NewInstanceGuard はInstanceGuardServiceの新しいインスタンスを生成する。
func NewInstanceGuard() *instanceGuard {
	return &instanceGuard{}
}

// NewSafeClient はHTTPSの443番ポートのみ許可するSSRF防止付きクライアントを生成する。
// safeurlはnet.DialerのControlフックでDNS解決後のIPアドレスを検証するため、
// DNS再バインディング攻撃にも対応している。
func (g *instanceGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateHost はホスト名の安全性を検証する。
// スキームやパス、ポートを含む入力は拒否する（サーバーはホスト名のみで指定する）。
func (g *instanceGuard) ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("empty host")
	}
	if strings.ContainsAny(host, "/:@?# ") {
		return fmt.Errorf("host must not contain scheme, port or path: %s", host)
	}

	// url.Parseを通してホスト名として解釈できることを確認する
	parsed, err := url.Parse("https://" + host)
	if err != nil || parsed.Hostname() != host {
		return fmt.Errorf("invalid host: %s", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	lower := strings.ToLower(host)
	for _, suffix := range blockedHostSuffixes {
		if lower == strings.TrimPrefix(suffix, ".") || strings.HasSuffix(lower, suffix) {
			return fmt.Errorf("blocked host: %s", host)
		}
	}
	if !strings.Contains(lower, ".") {
		return fmt.Errorf("host must be a fully qualified domain name: %s", host)
	}

	return nil
}

// isBlockedIP はIPアドレスがブロック対象のネットワーク範囲に含まれるかを検証する。
func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
