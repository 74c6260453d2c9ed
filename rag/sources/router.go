package sources

import (
	"context"
	"strings"

	"github.com/mudler/xlog"
)

// Config carries credentials shared by every external source.
type Config struct {
	// GitPrivateKey is a base64-encoded SSH key for private
	// repositories.
	GitPrivateKey string
}

// SourceRouter downloads a URL with the fetcher matching its shape: git
// repositories by .git suffix or git@ prefix, sitemaps by sitemap.xml
// suffix, anything else as a web page. A nil config behaves like an
// empty one.
func SourceRouter(ctx context.Context, url string, config *Config) (string, error) {
	if config == nil {
		config = &Config{}
	}

	xlog.Info("Downloading content", "url", url)
	switch {
	case strings.HasSuffix(url, ".git") || strings.HasPrefix(url, "git@"):
		return GetGitRepositoryContent(ctx, url, config.GitPrivateKey)
	case strings.HasSuffix(url, "sitemap.xml"):
		content, err := GetWebSitemapContent(ctx, url)
		if err != nil {
			return "", err
		}
		xlog.Info("Downloaded sitemap content", "url", url, "pages", len(content))
		return strings.Join(content, "\n"), nil
	}

	return GetWebPage(ctx, url)
}
