package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrUnsafeURL は取り込み元として登録できないURLを表す。
var ErrUnsafeURL = errors.New("unsafe url")

// URLGuard はブログ取り込み元URLのSSRF対策を提供する。
// 登録時の静的検証とフェッチ時のダイヤル時検証の2段で防ぐ。
type URLGuard interface {
	// NewSafeClient は内部ネットワークへの接続を拒否するHTTPクライアントを生成する。
	// safeurlがDNS解決後のIPアドレスをダイヤル時に検証するため、DNS再バインディングも防げる。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateFeedURL はDNS解決なしでURLを検証する。不可の場合は ErrUnsafeURL をラップして返す。
	ValidateFeedURL(rawURL string) error
}

var allowedSchemes = []string{"http", "https"}

// blockedNetworks は登録を拒否するアドレス範囲。
var blockedNetworks = mustParseCIDRs(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10", // CGNAT
	"127.0.0.0/8",
	"169.254.0.0/16", // メタデータIPを含む
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", cidr, err))
		}
		nets = append(nets, network)
	}
	return nets
}

type ssrfGuard struct{}

// NewSSRFGuard はURLGuardを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{}
}

// NewSafeClient は80/443番ポートのhttp(s)のみ許可するクライアントを生成する。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateFeedURL は取り込み元URLを静的に検証する。
func (g *ssrfGuard) ValidateFeedURL(rawURL string) error {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || rawURL == "" {
		return fmt.Errorf("%w: URLを解析できません", ErrUnsafeURL)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: スキーム %q は使用できません", ErrUnsafeURL, parsed.Scheme)
	}
	if parsed.User != nil {
		return fmt.Errorf("%w: 認証情報を含むURLは使用できません", ErrUnsafeURL)
	}
	if port := parsed.Port(); port != "" && port != "80" && port != "443" {
		return fmt.Errorf("%w: ポート %s は使用できません", ErrUnsafeURL, port)
	}

	host := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	if host == "" {
		return fmt.Errorf("%w: ホストがありません", ErrUnsafeURL)
	}
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("%w: 内部アドレス %s は使用できません", ErrUnsafeURL, ip)
		}
		return nil
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".internal") {
		return fmt.Errorf("%w: ホスト %s は使用できません", ErrUnsafeURL, host)
	}
	return nil
}

func isBlockedIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
