package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mudler/xlog"
	sitemap "github.com/oxffaa/gopher-parse-sitemap"
	"jaytaylor.com/html2text"
)

var webClient = &http.Client{Timeout: 30 * time.Second}

// GetWebPage downloads a page and converts its HTML to plain text.
// Tables keep their layout so figures stay readable after chunking.
func GetWebPage(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := webClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return html2text.FromString(string(body), html2text.Options{PrettyTables: true})
}

// GetWebSitemapContent downloads every page listed in a sitemap. Pages
// that fail to download are skipped.
func GetWebSitemapContent(ctx context.Context, url string) (res []string, err error) {
	err = sitemap.ParseFromSite(url, func(e sitemap.Entry) error {
		xlog.Debug("Sitemap page", "url", e.GetLocation())
		content, err := GetWebPage(ctx, e.GetLocation())
		if err != nil {
			xlog.Warn("Failed to fetch sitemap page", "url", e.GetLocation(), "error", err)
			return nil
		}
		res = append(res, content)
		return nil
	})
	return
}
