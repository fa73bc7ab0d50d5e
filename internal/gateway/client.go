// Package gateway implements the resilient client for the remote
// encyclopedia query API: continuation-token pagination, retry with
// jittered backoff, and batched title resolution.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mthorsley/wikigraph-crawler/internal/crawler"
	"github.com/mthorsley/wikigraph-crawler/internal/metrics"
)

// titleBatchSize is the upstream cap on titles per resolution request.
const titleBatchSize = 40

// Config controls the gateway client.
type Config struct {
	// BaseURL is the fixed query endpoint, e.g.
	// "https://en.wikipedia.org/w/api.php".
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Retry     RetryPolicy
}

// Client talks to the remote query API. It implements crawler.Gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	retry      RetryPolicy
	logger     *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		retry:      cfg.Retry,
		logger:     logger,
	}
}

// Wire types for the query API's legacy JSON format. A present "missing"
// or "redirect" key (any value) marks the condition.
type apiResponse struct {
	Continue map[string]string `json:"continue"`
	Query    *queryPayload     `json:"query"`
}

type queryPayload struct {
	Pages     map[string]pagePayload `json:"pages"`
	Backlinks []linkPayload          `json:"backlinks"`
}

type pagePayload struct {
	PageID   int64           `json:"pageid"`
	NS       int             `json:"ns"`
	Title    string          `json:"title"`
	Missing  json.RawMessage `json:"missing"`
	Redirect json.RawMessage `json:"redirect"`
	Links    []linkPayload   `json:"links"`
}

type linkPayload struct {
	NS    int    `json:"ns"`
	Title string `json:"title"`
}

// apiGet issues one logical query, retrying transient failures per the
// retry policy. Exhausted retries surface as *TransientError; malformed
// payloads surface immediately.
func (c *Client) apiGet(ctx context.Context, params url.Values) (apiResponse, error) {
	attempt := 0
	for {
		attempt++
		resp, err := c.doOnce(ctx, params)
		if err == nil {
			metrics.GatewayRequest("ok")
			return resp, nil
		}
		metrics.GatewayRequest("error")
		if !c.retry.ShouldRetry(err, attempt) {
			if isTransient(err) {
				return apiResponse{}, &TransientError{Attempts: attempt, Err: err}
			}
			return apiResponse{}, err
		}
		metrics.GatewayRetry()
		wait := c.retry.Backoff(attempt)
		c.logger.Warn("gateway call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return apiResponse{}, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) doOnce(ctx context.Context, params url.Values) (apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return apiResponse{}, fmt.Errorf("build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apiResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return apiResponse{}, &statusError{code: resp.StatusCode}
	}

	var payload apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return apiResponse{}, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

func baseParams() url.Values {
	return url.Values{
		"action": {"query"},
		"format": {"json"},
	}
}

// GetOutlinks returns every outbound link of the page in the allowed
// namespaces, following continuation tokens until exhausted.
func (c *Client) GetOutlinks(ctx context.Context, pageID int64, namespaces []int) ([]crawler.LinkRef, error) {
	allowed := namespaceSet(namespaces)
	var out []crawler.LinkRef

	cont := map[string]string{}
	for {
		params := baseParams()
		params.Set("pageids", strconv.FormatInt(pageID, 10))
		params.Set("prop", "links")
		params.Set("pllimit", "max")
		applyContinue(params, cont)

		resp, err := c.apiGet(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("get outlinks for %d: %w", pageID, err)
		}
		if resp.Query != nil {
			page := resp.Query.Pages[strconv.FormatInt(pageID, 10)]
			for _, l := range page.Links {
				if _, ok := allowed[l.NS]; ok {
					out = append(out, crawler.LinkRef{Title: l.Title, Namespace: l.NS})
				}
			}
		}
		if len(resp.Continue) == 0 {
			return out, nil
		}
		cont = resp.Continue
	}
}

// GetBacklinks returns every page linking to pageID in the allowed
// namespaces, following continuation tokens until exhausted.
func (c *Client) GetBacklinks(ctx context.Context, pageID int64, namespaces []int) ([]crawler.LinkRef, error) {
	allowed := namespaceSet(namespaces)
	var out []crawler.LinkRef

	cont := map[string]string{}
	for {
		params := baseParams()
		params.Set("list", "backlinks")
		params.Set("blpageid", strconv.FormatInt(pageID, 10))
		params.Set("bllimit", "max")
		params.Set("blnamespace", joinNamespaces(namespaces))
		applyContinue(params, cont)

		resp, err := c.apiGet(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("get backlinks for %d: %w", pageID, err)
		}
		if resp.Query != nil {
			for _, bl := range resp.Query.Backlinks {
				if _, ok := allowed[bl.NS]; ok {
					out = append(out, crawler.LinkRef{Title: bl.Title, Namespace: bl.NS})
				}
			}
		}
		if len(resp.Continue) == 0 {
			return out, nil
		}
		cont = resp.Continue
	}
}

// ResolveTitle maps one title to its canonical page, following redirects.
func (c *Client) ResolveTitle(ctx context.Context, title string) (crawler.PageInfo, error) {
	params := baseParams()
	params.Set("titles", title)
	params.Set("redirects", "1")
	params.Set("prop", "info")

	resp, err := c.apiGet(ctx, params)
	if err != nil {
		return crawler.PageInfo{}, fmt.Errorf("resolve title %q: %w", title, err)
	}
	if resp.Query == nil {
		return crawler.PageInfo{}, fmt.Errorf("resolve title %q: empty query payload", title)
	}
	for _, p := range resp.Query.Pages {
		if p.Missing != nil || p.PageID == 0 {
			continue
		}
		return pageInfoOf(p), nil
	}
	return crawler.PageInfo{}, fmt.Errorf("resolve title %q: %w", title, crawler.ErrTitleNotFound)
}

// BatchResolveTitles resolves many titles in upstream-sized chunks.
// Unresolved titles are omitted from the result map, not errors. Keys are
// the canonical titles returned upstream.
func (c *Client) BatchResolveTitles(ctx context.Context, titles []string) (map[string]crawler.PageInfo, error) {
	out := make(map[string]crawler.PageInfo, len(titles))
	for start := 0; start < len(titles); start += titleBatchSize {
		end := min(start+titleBatchSize, len(titles))
		params := baseParams()
		params.Set("titles", strings.Join(titles[start:end], "|"))
		params.Set("redirects", "1")
		params.Set("prop", "info")

		resp, err := c.apiGet(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("batch resolve titles: %w", err)
		}
		if resp.Query == nil {
			continue
		}
		for _, p := range resp.Query.Pages {
			if p.Missing != nil || p.PageID == 0 {
				continue
			}
			out[p.Title] = pageInfoOf(p)
		}
	}
	return out, nil
}

// GetPageInfo fetches metadata for a known page id; the second return
// reports whether the page exists upstream.
func (c *Client) GetPageInfo(ctx context.Context, pageID int64) (crawler.PageInfo, bool, error) {
	params := baseParams()
	params.Set("pageids", strconv.FormatInt(pageID, 10))
	params.Set("prop", "info")

	resp, err := c.apiGet(ctx, params)
	if err != nil {
		return crawler.PageInfo{}, false, fmt.Errorf("get page info for %d: %w", pageID, err)
	}
	if resp.Query == nil {
		return crawler.PageInfo{}, false, nil
	}
	p, ok := resp.Query.Pages[strconv.FormatInt(pageID, 10)]
	if !ok || p.Missing != nil || p.PageID == 0 {
		return crawler.PageInfo{}, false, nil
	}
	return pageInfoOf(p), true, nil
}

func pageInfoOf(p pagePayload) crawler.PageInfo {
	return crawler.PageInfo{
		PageID:     p.PageID,
		Title:      p.Title,
		Namespace:  p.NS,
		IsRedirect: p.Redirect != nil,
	}
}

// applyContinue echoes the previous response's continuation tokens back
// verbatim.
func applyContinue(params url.Values, cont map[string]string) {
	for k, v := range cont {
		params.Set(k, v)
	}
}

func namespaceSet(namespaces []int) map[int]struct{} {
	set := make(map[int]struct{}, len(namespaces))
	for _, ns := range namespaces {
		set[ns] = struct{}{}
	}
	return set
}

func joinNamespaces(namespaces []int) string {
	parts := make([]string, len(namespaces))
	for i, ns := range namespaces {
		parts[i] = strconv.Itoa(ns)
	}
	return strings.Join(parts, "|")
}
