// Package sources discovers articles from upstream news providers and
// ingests them as pending pipeline rows.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"marketbrief/internal/config"
	"marketbrief/internal/core"
)

// RawArticle is one provider result before it becomes a store row.
type RawArticle struct {
	SourceID    string
	SourceName  string
	Author      string
	Title       string
	Description string
	URL         string
	URLToImage  string
	Content     string
	PublishedAt time.Time
}

// Provider fetches articles for one search term. Implementations wrap a
// concrete news API; the pipeline only sees this interface.
type Provider interface {
	// Name tags ingested rows with their feed source.
	Name() string
	// FetchForTerm returns recent articles matching a ticker or topic.
	FetchForTerm(ctx context.Context, term string, since time.Time, limit int) ([]RawArticle, error)
}

// NewsAPIProvider implements Provider against the NewsAPI "everything"
// endpoint.
type NewsAPIProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewNewsAPI builds the provider from configuration.
func NewNewsAPI(cfg config.Providers) *NewsAPIProvider {
	baseURL := cfg.NewsAPIBaseURL
	if baseURL == "" {
		baseURL = "https://newsapi.org/v2"
	}
	return &NewsAPIProvider{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: baseURL,
		apiKey:  cfg.NewsAPIKey,
	}
}

func (p *NewsAPIProvider) Name() string { return "newsapi" }

// newsAPIResponse mirrors the provider's wire format.
type newsAPIResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"source"`
		Author      string    `json:"author"`
		Title       string    `json:"title"`
		Description string    `json:"description"`
		URL         string    `json:"url"`
		URLToImage  string    `json:"urlToImage"`
		PublishedAt time.Time `json:"publishedAt"`
		Content     string    `json:"content"`
	} `json:"articles"`
}

// FetchForTerm queries the everything endpoint for one term.
func (p *NewsAPIProvider) FetchForTerm(ctx context.Context, term string, since time.Time, limit int) ([]RawArticle, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	q := url.Values{}
	q.Set("q", term)
	q.Set("sortBy", "publishedAt")
	q.Set("language", "en")
	q.Set("pageSize", fmt.Sprintf("%d", limit))
	if !since.IsZero() {
		q.Set("from", since.UTC().Format(time.RFC3339))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/everything?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("X-Api-Key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider for %q: %w", term, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}

	var decoded newsAPIResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}
	if decoded.Status != "ok" {
		return nil, fmt.Errorf("provider error for %q: %s (%s)", term, decoded.Message, decoded.Code)
	}

	out := make([]RawArticle, 0, len(decoded.Articles))
	for _, a := range decoded.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		out = append(out, RawArticle{
			SourceID:    a.Source.ID,
			SourceName:  a.Source.Name,
			Author:      a.Author,
			Title:       a.Title,
			Description: a.Description,
			URL:         a.URL,
			URLToImage:  a.URLToImage,
			Content:     a.Content,
			PublishedAt: a.PublishedAt,
		})
	}
	return out, nil
}

// toArticle converts one provider result to a pending pipeline row.
func toArticle(raw RawArticle, searchedBy, feedSource string) *core.Article {
	return &core.Article{
		URL:         raw.URL,
		SourceID:    raw.SourceID,
		SourceName:  raw.SourceName,
		Author:      raw.Author,
		Title:       raw.Title,
		Description: raw.Description,
		URLToImage:  raw.URLToImage,
		Content:     raw.Content,
		PublishedAt: raw.PublishedAt,
		FeedSource:  feedSource,
		SearchedBy:  searchedBy,
		Status:      core.StatusPending,
	}
}
