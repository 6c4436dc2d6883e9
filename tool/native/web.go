package native

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/2606364644/sandbox-agent/tool"
)

const (
	defaultUserAgent = "sandbox-agent/1.0"
	maxBodyPreview   = 5000
	searchEndpoint   = "https://html.duckduckgo.com/html/"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// WebTools returns the native HTTP and search tools. The client is shared
// across tools; pass nil to use a 30 second default.
func WebTools(client *http.Client) []*tool.Tool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return []*tool.Tool{
		httpRequestTool(client),
		webSearchTool(client),
		extractURLsTool(),
	}
}

func httpRequestTool(client *http.Client) *tool.Tool {
	return &tool.Tool{
		Name:        "http_request",
		Description: "Fetch a URL and return status, headers of interest and a text preview of the body",
		Parameters: []tool.Parameter{
			{Name: "url", Type: "string", Description: "URL to fetch", Required: true},
			{Name: "method", Type: "string", Description: "HTTP method", Default: "GET", Enum: []string{"GET", "HEAD", "POST"}},
			{Name: "body", Type: "string", Description: "Request body for POST"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			rawURL, _ := args["url"].(string)
			method, _ := args["method"].(string)
			body, _ := args["body"].(string)

			parsed, err := url.Parse(rawURL)
			if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
				return "", fmt.Errorf("http_request: invalid url %q", rawURL)
			}

			var reader io.Reader
			if body != "" {
				reader = strings.NewReader(body)
			}
			req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
			if err != nil {
				return "", fmt.Errorf("http_request: %w", err)
			}
			req.Header.Set("User-Agent", defaultUserAgent)

			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("http_request: %w", err)
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(io.LimitReader(resp.Body, 4*maxBodyPreview))
			if err != nil {
				return "", fmt.Errorf("http_request: read body: %w", err)
			}

			contentType := resp.Header.Get("Content-Type")
			preview := string(data)
			if strings.Contains(contentType, "text/html") {
				if text, err := htmlToText(preview); err == nil {
					preview = text
				}
			}
			if len(preview) > maxBodyPreview {
				preview = preview[:maxBodyPreview] + "\n... (truncated)"
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Status: %s\n", resp.Status)
			fmt.Fprintf(&b, "Content-Type: %s\n", contentType)
			fmt.Fprintf(&b, "Size: %d bytes\n\n", len(data))
			b.WriteString(preview)
			return b.String(), nil
		},
	}
}

func webSearchTool(client *http.Client) *tool.Tool {
	return &tool.Tool{
		Name:        "web_search",
		Description: "Search the web via DuckDuckGo and return the top results",
		Parameters: []tool.Parameter{
			{Name: "query", Type: "string", Description: "Search query", Required: true},
			{Name: "max_results", Type: "integer", Description: "Maximum results to return", Default: 5},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			query, _ := args["query"].(string)
			maxResults := intArg(args["max_results"], 5)

			form := url.Values{"q": {query}}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, searchEndpoint,
				strings.NewReader(form.Encode()))
			if err != nil {
				return "", fmt.Errorf("web_search: %w", err)
			}
			req.Header.Set("User-Agent", defaultUserAgent)
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("web_search: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return "", fmt.Errorf("web_search: search returned %s", resp.Status)
			}

			doc, err := goquery.NewDocumentFromReader(resp.Body)
			if err != nil {
				return "", fmt.Errorf("web_search: parse results: %w", err)
			}

			var b strings.Builder
			count := 0
			doc.Find("div.result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
				title := strings.TrimSpace(sel.Find("a.result__a").Text())
				if title == "" {
					return true
				}
				link, _ := sel.Find("a.result__a").Attr("href")
				snippet := strings.TrimSpace(sel.Find("a.result__snippet").Text())

				count++
				fmt.Fprintf(&b, "%d. %s\n   %s\n", count, title, resolveRedirect(link))
				if snippet != "" {
					fmt.Fprintf(&b, "   %s\n", snippet)
				}
				return count < maxResults
			})

			if count == 0 {
				return fmt.Sprintf("no results for %q", query), nil
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	}
}

func extractURLsTool() *tool.Tool {
	return &tool.Tool{
		Name:        "extract_urls",
		Description: "Extract unique URLs from a block of text",
		Parameters: []tool.Parameter{
			{Name: "text", Type: "string", Description: "Text to scan for URLs", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			text, _ := args["text"].(string)

			seen := make(map[string]bool)
			var urls []string
			for _, match := range urlPattern.FindAllString(text, -1) {
				match = strings.TrimRight(match, ".,;")
				if !seen[match] {
					seen[match] = true
					urls = append(urls, match)
				}
			}
			if len(urls) == 0 {
				return "no URLs found", nil
			}
			var b strings.Builder
			for i, u := range urls {
				fmt.Fprintf(&b, "%d. %s\n", i+1, u)
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	}
}

// htmlToText extracts readable text from an HTML document, keeping headings,
// paragraphs and list items in document order.
func htmlToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script,style,noscript").Remove()

	var parts []string
	doc.Find("h1,h2,h3,h4,p,li,pre,code,td,th").Each(func(_ int, sel *goquery.Selection) {
		if text := strings.TrimSpace(sel.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		return strings.TrimSpace(doc.Text()), nil
	}
	return strings.Join(parts, "\n"), nil
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return link
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	if parsed.Scheme == "" {
		return "https:" + link
	}
	return link
}

func intArg(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return fallback
}
