package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Arxiv searches arXiv.org through its Atom export API.
type Arxiv struct {
	endpoint   string
	maxResults int
	client     *http.Client
}

// NewArxiv constructs the academic search tool. An empty endpoint uses export.arxiv.org.
func NewArxiv(endpoint string, maxResults int) *Arxiv {
	if endpoint == "" {
		endpoint = "http://export.arxiv.org/api/query"
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Arxiv{
		endpoint:   endpoint,
		maxResults: maxResults,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *Arxiv) Name() string { return "arXiv Search" }

type atomFeed struct {
	Entries []atomEntry `xml:"http://www.w3.org/2005/Atom entry"`
}

type atomEntry struct {
	ID        string       `xml:"http://www.w3.org/2005/Atom id"`
	Title     string       `xml:"http://www.w3.org/2005/Atom title"`
	Published string       `xml:"http://www.w3.org/2005/Atom published"`
	Summary   string       `xml:"http://www.w3.org/2005/Atom summary"`
	Authors   []atomAuthor `xml:"http://www.w3.org/2005/Atom author"`
}

type atomAuthor struct {
	Name string `xml:"http://www.w3.org/2005/Atom name"`
}

// Run returns title, authors, date, link and summary for each matching paper.
func (a *Arxiv) Run(ctx context.Context, query string) (string, error) {
	entries, err := a.search(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return fmt.Sprintf("Error searching ArXiv: %v", err), nil
	}
	if len(entries) == 0 {
		return "No papers found.", nil
	}

	blocks := make([]string, 0, len(entries))
	for _, e := range entries {
		names := make([]string, 0, len(e.Authors))
		for _, au := range e.Authors {
			names = append(names, strings.TrimSpace(au.Name))
		}
		summary := oneLine(e.Summary)
		if summary == "" {
			summary = "No summary."
		}
		published := strings.TrimSpace(e.Published)
		if len(published) > 10 {
			published = published[:10]
		}
		blocks = append(blocks, fmt.Sprintf("Title: %s\nAuthors: %s\nDate: %s\nLink: %s\nSummary: %s\n---",
			oneLine(e.Title), strings.Join(names, ", "), published, strings.TrimSpace(e.ID), summary))
	}
	return strings.Join(blocks, "\n"), nil
}

func (a *Arxiv) search(ctx context.Context, query string) ([]atomEntry, error) {
	params := fmt.Sprintf("search_query=all:%s&start=0&max_results=%d", url.QueryEscape(query), a.maxResults)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+"?"+params, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv http %d", resp.StatusCode)
	}

	var feed atomFeed
	if err := xml.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&feed); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed.Entries, nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
