package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const braveMaxResults = 5

// Brave searches the web with the Brave Search API.
type Brave struct {
	apiKey   string
	endpoint string
	client   *http.Client

	// Brave's free tier allows one request per second per key.
	mu     sync.Mutex
	nextAt time.Time
}

// NewBrave constructs the web search tool. An empty endpoint uses the public API.
func NewBrave(apiKey, endpoint string) *Brave {
	if endpoint == "" {
		endpoint = "https://api.search.brave.com/res/v1/web/search"
	}
	return &Brave{
		apiKey:   apiKey,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (b *Brave) Name() string { return "Brave Search" }

// Run returns the top results formatted for a model prompt.
func (b *Brave) Run(ctx context.Context, query string) (string, error) {
	if strings.TrimSpace(b.apiKey) == "" {
		return "Error: BRAVE_SEARCH_API_KEY is missing in the environment variables.", nil
	}
	if err := b.pace(ctx); err != nil {
		return "", err
	}
	results, err := b.search(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return fmt.Sprintf("Error performing search: %v", err), nil
	}
	if len(results) == 0 {
		return "No relevant results found.", nil
	}

	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Title: %s\nLink: %s\nSnippet: %s\n---", r.Title, r.URL, r.Description)
	}
	return sb.String(), nil
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

func (b *Brave) search(ctx context.Context, query string) ([]braveResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave http %d", resp.StatusCode)
	}

	var payload struct {
		Web struct {
			Results []braveResult `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.New("brave: malformed response")
	}
	results := payload.Web.Results
	if len(results) > braveMaxResults {
		results = results[:braveMaxResults]
	}
	return results, nil
}

// pace spaces requests one second apart.
func (b *Brave) pace(ctx context.Context) error {
	b.mu.Lock()
	wait := time.Until(b.nextAt)
	if wait < 0 {
		wait = 0
	}
	b.nextAt = time.Now().Add(wait + time.Second)
	b.mu.Unlock()

	if wait == 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
