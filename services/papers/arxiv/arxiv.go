// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package arxiv scrapes paper metadata from the arXiv export API.
//
// # Usage
//
//	c := arxiv.NewClient()
//	n, err := c.Scrape(ctx, []string{"geoscience machine learning"}, arxiv.ScrapeOptions{
//	    MaxResults: 10,
//	}, &arxiv.Saver{Dir: "scraped_papers"})
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the arXiv export API query endpoint.
const DefaultBaseURL = "http://export.arxiv.org/api/query"

// DefaultInterval is the pause arXiv asks clients to keep between requests.
const DefaultInterval = 3 * time.Second

const maxFeedBytes = 32 << 20

// Paper is the metadata kept for one arXiv entry.
type Paper struct {
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	Abstract      string   `json:"abstract"`
	PublishedDate string   `json:"published_date"`
	DOI           *string  `json:"doi"`
	PDFURL        *string  `json:"pdf_url"`
}

// DateRange restricts results to a publication window. Both ends use
// YYYY-MM-DD.
type DateRange struct {
	Start string
	End   string
}

func (d DateRange) empty() bool { return d.Start == "" || d.End == "" }

// Client queries arXiv. Requests share one rate limiter.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Limiter *rate.Limiter
}

// NewClient returns a client limited to one request per DefaultInterval.
func NewClient() *Client {
	return &Client{
		BaseURL: DefaultBaseURL,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
		Limiter: rate.NewLimiter(rate.Every(DefaultInterval), 1),
	}
}

// Search fetches one page of results for topic.
func (c *Client) Search(ctx context.Context, topic string, start, maxResults int, dr DateRange) ([]Paper, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	q := url.Values{}
	q.Set("search_query", "all:"+topic)
	q.Set("start", strconv.Itoa(start))
	q.Set("max_results", strconv.Itoa(maxResults))
	if !dr.empty() {
		q.Set("date_range", dr.Start+","+dr.End)
	}
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv query %q: %w", topic, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv query %q: status %d", topic, resp.StatusCode)
	}
	return ParseFeed(io.LimitReader(resp.Body, maxFeedBytes))
}

// ScrapeOptions controls Scrape.
type ScrapeOptions struct {
	MaxResults int
	DateRange  DateRange
}

// Sink receives scraped papers.
type Sink interface {
	Save(ctx context.Context, p Paper) error
}

// Scrape searches every topic in order and hands each paper to the sinks.
//
// # Description
//
// A failed topic query is logged and skipped. A sink error aborts the
// scrape, since it usually means the destination is unusable.
//
// # Outputs
//
//   - int: Papers saved.
//   - error: Context cancellation or the first sink failure.
func (c *Client) Scrape(ctx context.Context, topics []string, opts ScrapeOptions, sinks ...Sink) (int, error) {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 100
	}
	saved := 0
	for _, topic := range topics {
		papers, err := c.Search(ctx, topic, 0, opts.MaxResults, opts.DateRange)
		if err != nil {
			if ctx.Err() != nil {
				return saved, ctx.Err()
			}
			slog.Warn("arxiv topic failed", "topic", topic, "error", err)
			continue
		}
		for _, p := range papers {
			for _, s := range sinks {
				if err := s.Save(ctx, p); err != nil {
					return saved, fmt.Errorf("save %q: %w", p.Title, err)
				}
			}
			saved++
		}
		slog.Info("arxiv topic scraped", "topic", topic, "papers", len(papers))
	}
	return saved, nil
}

// =============================================================================
// Atom parsing
// =============================================================================

type atomFeed struct {
	Entries []atomEntry `xml:"http://www.w3.org/2005/Atom entry"`
}

type atomEntry struct {
	Title     string       `xml:"http://www.w3.org/2005/Atom title"`
	Summary   string       `xml:"http://www.w3.org/2005/Atom summary"`
	Published string       `xml:"http://www.w3.org/2005/Atom published"`
	Authors   []atomAuthor `xml:"http://www.w3.org/2005/Atom author"`
	Links     []atomLink   `xml:"http://www.w3.org/2005/Atom link"`
	DOI       *string      `xml:"http://arxiv.org/schemas/atom doi"`
}

type atomAuthor struct {
	Name string `xml:"http://www.w3.org/2005/Atom name"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
}

// ParseFeed decodes an arXiv Atom feed.
func ParseFeed(r io.Reader) ([]Paper, error) {
	var feed atomFeed
	if err := xml.NewDecoder(r).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode atom feed: %w", err)
	}
	papers := make([]Paper, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		p := Paper{
			Title:         e.Title,
			Abstract:      e.Summary,
			PublishedDate: e.Published,
			Authors:       make([]string, 0, len(e.Authors)),
		}
		for _, a := range e.Authors {
			p.Authors = append(p.Authors, a.Name)
		}
		if e.DOI != nil {
			doi := strings.TrimSpace(*e.DOI)
			p.DOI = &doi
		}
		for _, l := range e.Links {
			if l.Title == "pdf" {
				href := l.Href
				p.PDFURL = &href
				break
			}
		}
		papers = append(papers, p)
	}
	return papers, nil
}
