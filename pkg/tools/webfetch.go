package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const fetchUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// WebFetchTool fetches a URL and extracts readable content. Targets on
// private or link-local networks are refused, including via redirects.
type WebFetchTool struct {
	maxBytes          int
	allowPrivateHosts bool
	resolver          *net.Resolver
}

func NewWebFetchTool(maxBytes int) *WebFetchTool {
	if maxBytes <= 0 {
		maxBytes = 50000
	}
	return &WebFetchTool{
		maxBytes: maxBytes,
		resolver: net.DefaultResolver,
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a URL and extract readable content (HTML to text)."
}

func (t *WebFetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL to fetch",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	urlStr, ok := args["url"].(string)
	if !ok {
		return ErrorResult("url is required")
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid URL: %v", err))
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return ErrorResult("only http/https URLs are allowed")
	}
	if parsedURL.Host == "" {
		return ErrorResult("missing domain in URL")
	}
	if err := t.validateTargetURL(ctx, parsedURL); err != nil {
		return ErrorResult(fmt.Sprintf("blocked URL target: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, "GET", urlStr, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	client := &http.Client{
		Timeout: 60 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("stopped after 5 redirects")
			}
			return t.validateTargetURL(ctx, req.URL)
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxBytes)+1))
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to read response: %v", err))
	}
	truncated := len(body) > t.maxBytes
	if truncated {
		body = body[:t.maxBytes]
	}

	contentType := resp.Header.Get("Content-Type")
	var text string
	switch {
	case strings.Contains(contentType, "application/json"):
		var jsonData interface{}
		if err := json.Unmarshal(body, &jsonData); err == nil {
			formatted, _ := json.MarshalIndent(jsonData, "", "  ")
			text = string(formatted)
		} else {
			text = string(body)
		}
	case strings.Contains(contentType, "text/html"),
		strings.HasPrefix(string(body), "<!DOCTYPE"),
		strings.HasPrefix(strings.ToLower(string(body)), "<html"):
		text = extractText(string(body))
	default:
		text = string(body)
	}

	return SuccessResult(fmt.Sprintf(
		"Fetched URL: %s\nStatus: %d\nTruncated: %v\nContent:\n%s",
		urlStr, resp.StatusCode, truncated, text,
	))
}

func extractText(htmlContent string) string {
	re := regexp.MustCompile(`<script[\s\S]*?</script>`)
	result := re.ReplaceAllLiteralString(htmlContent, "")
	re = regexp.MustCompile(`<style[\s\S]*?</style>`)
	result = re.ReplaceAllLiteralString(result, "")
	re = regexp.MustCompile(`<[^>]+>`)
	result = re.ReplaceAllLiteralString(result, "")

	result = strings.TrimSpace(result)
	re = regexp.MustCompile(`\s+`)
	return re.ReplaceAllLiteralString(result, " ")
}

func (t *WebFetchTool) validateTargetURL(ctx context.Context, parsedURL *url.URL) error {
	if parsedURL == nil {
		return fmt.Errorf("invalid URL")
	}
	if t.allowPrivateHosts {
		return nil
	}
	host := strings.TrimSpace(parsedURL.Hostname())
	if host == "" {
		return fmt.Errorf("missing host")
	}
	return t.validateTargetHost(ctx, host)
}

func (t *WebFetchTool) validateTargetHost(ctx context.Context, host string) error {
	normalizedHost := strings.TrimSuffix(strings.ToLower(host), ".")
	if normalizedHost == "" {
		return fmt.Errorf("missing host")
	}
	if normalizedHost == "localhost" ||
		strings.HasSuffix(normalizedHost, ".localhost") ||
		strings.HasSuffix(normalizedHost, ".local") ||
		strings.HasSuffix(normalizedHost, ".internal") {
		return fmt.Errorf("host %q resolves to local/private network", host)
	}

	if ip := net.ParseIP(normalizedHost); ip != nil {
		if isBlockedFetchIP(ip) {
			return fmt.Errorf("IP %s is not allowed", ip.String())
		}
		return nil
	}

	lookupCtx := ctx
	cancel := func() {}
	if _, hasDeadline := lookupCtx.Deadline(); !hasDeadline {
		lookupCtx, cancel = context.WithTimeout(lookupCtx, 5*time.Second)
	}
	defer cancel()

	resolver := t.resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(lookupCtx, normalizedHost)
	if err != nil {
		return fmt.Errorf("resolve host %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("resolve host %q: no addresses found", host)
	}
	for _, addr := range addrs {
		if isBlockedFetchIP(addr.IP) {
			return fmt.Errorf("resolved address %s is not allowed", addr.IP.String())
		}
	}
	return nil
}

var blockedFetchPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("192.88.99.0/24"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("ff00::/8"),
	netip.MustParsePrefix("2001:db8::/32"),
}

func isBlockedFetchIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified() {
		return true
	}

	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return true
	}
	for _, prefix := range blockedFetchPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
