package dataflows

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v5"
	"github.com/go-resty/resty/v2"

	"github.com/dyike/tradecouncil/models"
)

const googleNewsBaseURL = "https://news.google.com"

// GoogleNewsClient scrapes the Google News search page.
type GoogleNewsClient struct {
	client *resty.Client
	cache  *Cache
	now    func() time.Time
}

type GoogleNewsOption func(*GoogleNewsClient)

func WithGoogleNewsBaseURL(u string) GoogleNewsOption {
	return func(g *GoogleNewsClient) { g.client.SetBaseURL(u) }
}

func WithGoogleNewsCache(c *Cache) GoogleNewsOption {
	return func(g *GoogleNewsClient) { g.cache = c }
}

func NewGoogleNewsClient(opts ...GoogleNewsOption) *GoogleNewsClient {
	client := resty.New()
	client.SetBaseURL(googleNewsBaseURL)
	client.SetTimeout(30 * time.Second)
	client.SetHeader("User-Agent", "Mozilla/5.0 (compatible; TradeCouncil/1.0)")

	g := &GoogleNewsClient{client: client, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GoogleNewsClient) Name() string { return "google_news" }

// Search returns at most limit articles matching query published in [from, to].
func (g *GoogleNewsClient) Search(ctx context.Context, query string, from, to time.Time, limit int) ([]*NewsArticle, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	if limit <= 0 {
		limit = 20
	}
	q := query
	if !from.IsZero() && !to.IsZero() {
		q += fmt.Sprintf(" after:%s before:%s", from.Format(models.DateLayout), to.AddDate(0, 0, 1).Format(models.DateLayout))
	}
	key := fmt.Sprintf("google:%s:%d", q, limit)
	return cached(g.cache, key, func() ([]*NewsArticle, error) {
		return withRetry(ctx, func() ([]*NewsArticle, error) {
			resp, err := g.client.R().
				SetContext(ctx).
				SetDoNotParseResponse(true).
				SetQueryParams(map[string]string{"q": q, "hl": "en-US", "gl": "US", "ceid": "US:en"}).
				Get("/search")
			if err != nil {
				return nil, fmt.Errorf("fetch google news: %w", err)
			}
			body := resp.RawBody()
			defer body.Close()
			if code := resp.StatusCode(); code != 200 {
				err := fmt.Errorf("google news: status %d", code)
				if code == 429 || code >= 500 {
					return nil, err
				}
				return nil, backoff.Permanent(err)
			}
			doc, err := goquery.NewDocumentFromReader(body)
			if err != nil {
				return nil, backoff.Permanent(fmt.Errorf("parse google news: %w", err))
			}
			articles := g.parse(doc)
			if len(articles) > limit {
				articles = articles[:limit]
			}
			return articles, nil
		})
	})
}

func (g *GoogleNewsClient) parse(doc *goquery.Document) []*NewsArticle {
	var articles []*NewsArticle
	doc.Find("article").Each(func(_ int, s *goquery.Selection) {
		title := strings.TrimSpace(s.Find("h3").First().Text())
		if title == "" {
			title = strings.TrimSpace(s.Find("h4").First().Text())
		}
		if title == "" {
			title = strings.TrimSpace(s.Find("a").Last().Text())
		}
		href, ok := s.Find("a").First().Attr("href")
		if title == "" || !ok {
			return
		}
		source := strings.TrimSpace(s.Find("div[data-n-tid]").First().Text())
		if source == "" {
			source = "Google News"
		}
		published := g.now().UTC()
		if dt, ok := s.Find("time").First().Attr("datetime"); ok {
			if t, err := time.Parse(time.RFC3339, dt); err == nil {
				published = t.UTC()
			}
		} else {
			published = g.relative(s.Find("time").First().Text())
		}
		articles = append(articles, &NewsArticle{
			Title:       title,
			URL:         absoluteNewsURL(href),
			Source:      source,
			PublishedAt: published,
		})
	})
	return articles
}

func absoluteNewsURL(href string) string {
	if i := strings.Index(href, "url="); i >= 0 {
		if u, err := url.QueryUnescape(href[i+len("url="):]); err == nil {
			return u
		}
	}
	switch {
	case strings.HasPrefix(href, "./"):
		return googleNewsBaseURL + href[1:]
	case strings.HasPrefix(href, "/"):
		return googleNewsBaseURL + href
	}
	return href
}

var relativePattern = regexp.MustCompile(`(\d+)\s*(minute|hour|day|week)s?\s*ago`)

// relative turns "3 hours ago" style text into a timestamp.
func (g *GoogleNewsClient) relative(text string) time.Time {
	now := g.now().UTC()
	m := relativePattern.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return now
	}
	n, _ := strconv.Atoi(m[1])
	unit := map[string]time.Duration{
		"minute": time.Minute,
		"hour":   time.Hour,
		"day":    24 * time.Hour,
		"week":   7 * 24 * time.Hour,
	}[m[2]]
	return now.Add(-time.Duration(n) * unit)
}
