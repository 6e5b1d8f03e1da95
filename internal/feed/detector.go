// Package feed は取り込み元登録時のフィードURL自動検出を提供する。
// 管理者がブログのトップページURLを入力した場合に、
// head内の <link rel="alternate"> からRSS/AtomのURLを見つける。
package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hitoshi/fitclub/internal/security"
)

const (
	userAgent      = "FitClub/1.0 Feed Discovery"
	defaultTimeout = 10 * time.Second
	maxPageSize    = 2 << 20
	sniffSize      = 4096
)

var (
	// ErrNotDetected はページからフィードが見つからなかったことを表す。
	ErrNotDetected = errors.New("feed not detected")
	// ErrFetchFailed はページの取得に失敗したことを表す。
	ErrFetchFailed = errors.New("feed discovery fetch failed")
)

// Kind はフィードの種類。
type Kind string

const (
	KindRSS  Kind = "rss"
	KindAtom Kind = "atom"
)

// Candidate はHTMLのlink要素から見つかったフィード候補。
type Candidate struct {
	URL   string
	Kind  Kind
	Title string
}

// Detector はURLがフィードかどうかを判定し、HTMLならフィードURLを探す。
type Detector struct {
	guard   security.URLGuard
	timeout time.Duration
}

// NewDetector はDetectorを生成する。
func NewDetector(guard security.URLGuard) *Detector {
	return &Detector{guard: guard, timeout: defaultTimeout}
}

// Discover はrawURLを取得し、フィードURLを返す。
// rawURL自体がフィードならそのまま返す。
func (d *Detector) Discover(ctx context.Context, rawURL string) (string, error) {
	if err := d.guard.ValidateFeedURL(rawURL); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.9, */*;q=0.1")

	resp, err := d.guard.NewSafeClient(d.timeout).Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: HTTPステータス %d", ErrFetchFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	mediaType := parseMediaType(resp.Header.Get("Content-Type"))
	if IsFeed(mediaType, body) {
		return rawURL, nil
	}
	if !strings.Contains(mediaType, "html") {
		return "", ErrNotDetected
	}

	best := SelectBest(ParseLinks(body, rawURL), rawURL)
	if best == nil {
		return "", ErrNotDetected
	}
	return best.URL, nil
}

func parseMediaType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return strings.ToLower(mediaType)
}

// IsFeed はメディアタイプとボディの先頭からRSS/Atomかを判定する。
// text/xml と application/xml はボディを見て判定する。
func IsFeed(mediaType string, body []byte) bool {
	switch mediaType {
	case "application/rss+xml", "application/atom+xml":
		return true
	case "text/xml", "application/xml":
	default:
		return false
	}

	head := body
	if len(head) > sniffSize {
		head = head[:sniffSize]
	}
	prefix := strings.ToLower(string(head))

	switch {
	case strings.Contains(prefix, "<rss"), strings.Contains(prefix, "<rdf:rdf"):
		return true
	case strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom"):
		return true
	}
	return false
}

// ParseLinks はHTMLのhead内から rel="alternate" のRSS/Atomリンクを抽出する。
// 相対URLはpageURLを基準に解決する。
func ParseLinks(page []byte, pageURL string) []Candidate {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var found []Candidate
	z := html.NewTokenizer(bytes.NewReader(page))
	inHead := false

	for {
		switch z.Next() {
		case html.ErrorToken:
			return found

		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return found
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "head":
				inHead = true
				continue
			case "body":
				return found
			case "link":
			default:
				continue
			}
			if !inHead || !hasAttr {
				continue
			}

			attrs := make(map[string]string, 4)
			for more := true; more; {
				var key, val []byte
				key, val, more = z.TagAttr()
				attrs[strings.ToLower(string(key))] = string(val)
			}

			if !hasToken(attrs["rel"], "alternate") || attrs["href"] == "" {
				continue
			}

			var kind Kind
			switch strings.ToLower(attrs["type"]) {
			case "application/rss+xml":
				kind = KindRSS
			case "application/atom+xml":
				kind = KindAtom
			default:
				continue
			}

			ref, err := url.Parse(attrs["href"])
			if err != nil {
				continue
			}
			found = append(found, Candidate{
				URL:   base.ResolveReference(ref).String(),
				Kind:  kind,
				Title: attrs["title"],
			})
		}
	}
}

// hasToken はスペース区切りのrel属性にtokenが含まれるかを返す。
func hasToken(rel, token string) bool {
	for _, f := range strings.Fields(strings.ToLower(rel)) {
		if f == token {
			return true
		}
	}
	return false
}

// SelectBest は候補から1件を選ぶ。
// 同一ホストを優先し、次にAtom、同点なら先に出現したものを選ぶ。
func SelectBest(candidates []Candidate, pageURL string) *Candidate {
	if len(candidates) == 0 {
		return nil
	}

	pageHost := hostOf(pageURL)
	best, bestScore := 0, -1
	for i, c := range candidates {
		score := 0
		if hostOf(c.URL) == pageHost {
			score += 100
		}
		if c.Kind == KindAtom {
			score += 10
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return &candidates[best]
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
