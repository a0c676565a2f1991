package websearch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	maxPageBytes    = 10 * 1024 * 1024
	maxContentChars = 10000
	userAgent       = "Mozilla/5.0 (compatible; PraxisBot/1.0)"
)

// ContentExtractor fetches a page and reduces it to readable text.
type ContentExtractor struct {
	httpClient *http.Client
	allowLocal bool // tests hit httptest servers on loopback
}

// NewContentExtractor creates an extractor with the default HTTP client.
func NewContentExtractor() *ContentExtractor {
	return &ContentExtractor{
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// NewContentExtractorForTesting allows loopback URLs. Tests only.
func NewContentExtractorForTesting() *ContentExtractor {
	e := NewContentExtractor()
	e.allowLocal = true
	return e
}

func isPrivateOrReservedIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	return ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsMulticast()
}

// validateURL rejects non-HTTP schemes and URLs that resolve to private or
// reserved addresses so tool calls cannot reach internal services.
func validateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", parsed.Scheme)
	}
	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("URL must have a hostname")
	}
	lower := strings.ToLower(hostname)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("localhost URLs are not allowed")
	}
	ips, err := net.LookupIP(hostname)
	if err != nil {
		// Unresolvable here may still resolve behind a proxy.
		return nil
	}
	for _, ip := range ips {
		if isPrivateOrReservedIP(ip) {
			return fmt.Errorf("URL resolves to a private or reserved address")
		}
	}
	return nil
}

// Extract fetches targetURL and returns its readable text.
func (e *ContentExtractor) Extract(ctx context.Context, targetURL string) (string, error) {
	if !e.allowLocal {
		if err := validateURL(targetURL); err != nil {
			return "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "text/plain") {
		return "", fmt.Errorf("unsupported content type: %s", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	if strings.Contains(contentType, "text/plain") {
		return truncate(strings.TrimSpace(string(body)), maxContentChars), nil
	}

	content := extractReadable(string(body))
	return truncate(content, maxContentChars), nil
}

var (
	titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	descRe  = regexp.MustCompile(`(?i)<meta[^>]+name=["']description["'][^>]+content=["']([^"']*)["']`)
	tagRe   = regexp.MustCompile(`(?s)<[^>]*>`)
	wsRe    = regexp.MustCompile(`[ \t]+`)
	nlRe    = regexp.MustCompile(`\n{3,}`)
)

// extractReadable strips chrome and markup from an HTML page, keeping the
// title, meta description, and body text.
func extractReadable(html string) string {
	for _, tag := range []string{"script", "style", "noscript", "iframe", "nav", "header", "footer", "aside"} {
		html = removeTag(html, tag)
	}

	var out strings.Builder
	if m := titleRe.FindStringSubmatch(html); m != nil {
		if title := cleanText(m[1]); title != "" {
			out.WriteString("Title: " + title + "\n\n")
		}
	}
	if m := descRe.FindStringSubmatch(html); m != nil {
		if desc := cleanText(m[1]); desc != "" {
			out.WriteString("Description: " + desc + "\n\n")
		}
	}
	out.WriteString(cleanText(html))
	return strings.TrimSpace(out.String())
}

func removeTag(html, tag string) string {
	re := regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
	return re.ReplaceAllString(html, "")
}

// cleanText drops tags, decodes the common entities, and collapses
// whitespace.
func cleanText(html string) string {
	// Block-level closers become newlines so paragraphs survive.
	html = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr)>`).ReplaceAllString(html, "\n")
	html = regexp.MustCompile(`(?i)<br\s*/?>`).ReplaceAllString(html, "\n")
	html = tagRe.ReplaceAllString(html, " ")

	replacer := strings.NewReplacer(
		"&amp;", "&", "&lt;", "<", "&gt;", ">",
		"&quot;", `"`, "&#39;", "'", "&apos;", "'", "&nbsp;", " ",
	)
	html = replacer.Replace(html)

	html = wsRe.ReplaceAllString(html, " ")
	lines := strings.Split(html, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	html = strings.Join(lines, "\n")
	html = nlRe.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
