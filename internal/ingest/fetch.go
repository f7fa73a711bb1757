package ingest

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/idxquant/idxpulse/internal/domain"
)

// Fetcher retrieves raw source material over HTTP for news and social
// sources that arrive as URLs rather than inline payloads.
type Fetcher struct {
	client *resty.Client
}

// NewFetcher creates an HTTP fetcher with the given per-request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", "idxpulse/1.0")
	return &Fetcher{client: client}
}

// FetchArticle downloads a web page and strips it to title plus readable
// body text. Network failures and 5xx responses are retryable; a 4xx means
// the source itself is bad and goes to the operator queue.
func (f *Fetcher) FetchArticle(ctx context.Context, url string) (title, text string, err error) {
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", "", &domain.IngestionError{Source: url, Retryable: true, Err: err}
	}
	if resp.StatusCode() >= 500 {
		return "", "", &domain.IngestionError{Source: url, Retryable: true, Err: fmt.Errorf("server returned %d", resp.StatusCode())}
	}
	if resp.StatusCode() >= 400 {
		return "", "", &domain.IngestionError{Source: url, Retryable: false, Err: fmt.Errorf("source returned %d", resp.StatusCode())}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return "", "", &domain.IngestionError{Source: url, Retryable: false, Err: fmt.Errorf("failed to parse html: %w", err)}
	}
	doc.Find("script, style, nav, header, footer, aside").Remove()

	title = strings.TrimSpace(doc.Find("title").First().Text())
	body := doc.Find("article")
	if body.Length() == 0 {
		body = doc.Find("body")
	}
	text = normalizeWhitespace(body.Text())
	if text == "" {
		return "", "", &domain.IngestionError{Source: url, Retryable: false, Err: fmt.Errorf("page has no readable text")}
	}
	return title, text, nil
}

// FetchBytes downloads a binary payload such as a PDF or recording.
func (f *Fetcher) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, &domain.IngestionError{Source: url, Retryable: true, Err: err}
	}
	if resp.StatusCode() >= 500 {
		return nil, &domain.IngestionError{Source: url, Retryable: true, Err: fmt.Errorf("server returned %d", resp.StatusCode())}
	}
	if resp.StatusCode() >= 400 {
		return nil, &domain.IngestionError{Source: url, Retryable: false, Err: fmt.Errorf("source returned %d", resp.StatusCode())}
	}
	return resp.Body(), nil
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
