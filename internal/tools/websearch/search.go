// Package websearch provides the web_search and web_fetch tools. Search uses
// DuckDuckGo's HTML endpoint, which needs no API key; fetch extracts readable
// text from a page.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/praxisworks/praxis/internal/chat"
)

const (
	defaultResultCount = 5
	maxResultCount     = 20
	defaultCacheTTL    = 5 * time.Minute
	maxCacheSize       = 256
)

// SearchResult is one hit returned to the model.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Content string `json:"content,omitempty"`
}

// SearchResponse is the tool's JSON output.
type SearchResponse struct {
	Query       string         `json:"query"`
	Results     []SearchResult `json:"results"`
	ResultCount int            `json:"result_count"`
}

type searchParams struct {
	Query          string `json:"query"`
	ResultCount    int    `json:"result_count,omitempty"`
	ExtractContent bool   `json:"extract_content,omitempty"`
}

type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// SearchTool implements web_search with a short-lived response cache.
type SearchTool struct {
	httpClient *http.Client
	extractor  *ContentExtractor
	cacheTTL   time.Duration
	endpoint   string

	cacheMu sync.RWMutex
	cache   map[string]*cacheEntry
}

var _ chat.Tool = (*SearchTool)(nil)

// NewSearchTool creates the web_search tool.
func NewSearchTool() *SearchTool {
	return &SearchTool{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		extractor:  NewContentExtractor(),
		cacheTTL:   defaultCacheTTL,
		endpoint:   "https://html.duckduckgo.com/html/",
		cache:      make(map[string]*cacheEntry),
	}
}

func (t *SearchTool) Name() string { return "web_search" }

func (t *SearchTool) Description() string {
	return "Search the web for information. Returns titles, URLs, and snippets; can optionally extract full page content from result URLs."
}

func (t *SearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "The search query"},
			"result_count": {"type": "integer", "description": "Number of results to return (default: 5, max: 20)", "minimum": 1, "maximum": 20},
			"extract_content": {"type": "boolean", "description": "Whether to extract full content from result URLs (default: false)"}
		},
		"required": ["query"]
	}`)
}

// Execute runs the search, serving from cache when the same query was asked
// recently.
func (t *SearchTool) Execute(ctx context.Context, args json.RawMessage, _ *chat.RunContext) (string, error) {
	var params searchParams
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(params.Query) == "" {
		return "", fmt.Errorf("query parameter is required")
	}
	if params.ResultCount <= 0 {
		params.ResultCount = defaultResultCount
	} else if params.ResultCount > maxResultCount {
		params.ResultCount = maxResultCount
	}

	cacheKey := fmt.Sprintf("%d:%v:%s", params.ResultCount, params.ExtractContent, params.Query)
	if cached := t.getFromCache(cacheKey); cached != nil {
		return formatResponse(cached)
	}

	response, err := t.search(ctx, &params)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}

	if params.ExtractContent {
		t.extractContentForResults(ctx, response)
	}

	t.putInCache(cacheKey, response)
	return formatResponse(response)
}

func formatResponse(response *SearchResponse) (string, error) {
	output, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format response: %w", err)
	}
	return string(output), nil
}

var (
	resultLinkRe    = regexp.MustCompile(`(?s)<a[^>]+class="result__a"[^>]+href="([^"]+)"[^>]*>(.*?)</a>`)
	resultSnippetRe = regexp.MustCompile(`(?s)<a[^>]+class="result__snippet"[^>]*>(.*?)</a>`)
)

// search queries the DuckDuckGo HTML endpoint and parses result anchors.
func (t *SearchTool) search(ctx context.Context, params *searchParams) (*SearchResponse, error) {
	form := url.Values{"q": {params.Query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search backend returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return parseResults(params.Query, string(body), params.ResultCount), nil
}

// parseResults pairs result anchors with their snippets in document order.
func parseResults(query, html string, limit int) *SearchResponse {
	links := resultLinkRe.FindAllStringSubmatch(html, -1)
	snippets := resultSnippetRe.FindAllStringSubmatch(html, -1)

	results := make([]SearchResult, 0, limit)
	for i, link := range links {
		if len(results) >= limit {
			break
		}
		resultURL := decodeResultURL(link[1])
		if resultURL == "" {
			continue
		}
		result := SearchResult{
			Title: cleanText(link[2]),
			URL:   resultURL,
		}
		if i < len(snippets) {
			result.Snippet = cleanText(snippets[i][1])
		}
		results = append(results, result)
	}

	return &SearchResponse{
		Query:       query,
		Results:     results,
		ResultCount: len(results),
	}
}

// decodeResultURL unwraps DuckDuckGo's redirect links, which carry the real
// target in the uddg parameter.
func decodeResultURL(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	if parsed.Scheme == "http" || parsed.Scheme == "https" {
		return href
	}
	return ""
}

// extractContentForResults fills in page content for each hit in parallel.
func (t *SearchTool) extractContentForResults(ctx context.Context, response *SearchResponse) {
	var wg sync.WaitGroup
	for i := range response.Results {
		wg.Add(1)
		go func(result *SearchResult) {
			defer wg.Done()
			content, err := t.extractor.Extract(ctx, result.URL)
			if err == nil && content != "" {
				result.Content = content
			}
		}(&response.Results[i])
	}
	wg.Wait()
}

func (t *SearchTool) getFromCache(key string) *SearchResponse {
	t.cacheMu.RLock()
	defer t.cacheMu.RUnlock()
	entry, ok := t.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.response
}

func (t *SearchTool) putInCache(key string, response *SearchResponse) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()

	now := time.Now()
	for k, v := range t.cache {
		if now.After(v.expiresAt) {
			delete(t.cache, k)
		}
	}
	// Still full after dropping expired entries: evict the soonest-to-expire.
	for len(t.cache) >= maxCacheSize {
		var oldestKey string
		var oldestTime time.Time
		for k, v := range t.cache {
			if oldestKey == "" || v.expiresAt.Before(oldestTime) {
				oldestKey = k
				oldestTime = v.expiresAt
			}
		}
		delete(t.cache, oldestKey)
	}

	t.cache[key] = &cacheEntry{response: response, expiresAt: now.Add(t.cacheTTL)}
}
