package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
)

// Selectors are CSS selectors relative to one result item. Empty selectors
// are skipped.
type Selectors struct {
	Item         string `yaml:"item"`
	Name         string `yaml:"name"`
	Price        string `yaml:"price"`
	Manufacturer string `yaml:"manufacturer"`
	Country      string `yaml:"country"`
	Image        string `yaml:"image"`
	Link         string `yaml:"link"`
	Description  string `yaml:"description"`
}

// HTMLSourceOptions configures an HTMLSource.
type HTMLSourceOptions struct {
	ID string
	// SearchURL contains a single %s replaced by the escaped query.
	SearchURL string
	Selectors Selectors
	UserAgent string
	Timeout   time.Duration
	MaxItems  int
}

// HTMLSource scrapes a search results page.
type HTMLSource struct {
	id        string
	searchURL string
	sel       Selectors
	userAgent string
	timeout   time.Duration
	maxItems  int
}

// NewHTMLSource validates opts and builds the source.
func NewHTMLSource(opts HTMLSourceOptions) (*HTMLSource, error) {
	if strings.TrimSpace(opts.ID) == "" {
		return nil, errors.New("ID is required")
	}
	if strings.Count(opts.SearchURL, "%s") != 1 {
		return nil, fmt.Errorf("SearchURL must contain exactly one %%s: %q", opts.SearchURL)
	}
	if _, err := url.Parse(fmt.Sprintf(opts.SearchURL, "x")); err != nil {
		return nil, fmt.Errorf("invalid SearchURL: %w", err)
	}
	if opts.Selectors.Item == "" || opts.Selectors.Name == "" {
		return nil, errors.New("item and name selectors are required")
	}
	to := opts.Timeout
	if to <= 0 {
		to = 10 * time.Second
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "drug-price-aggregator/1.0"
	}
	max := opts.MaxItems
	if max <= 0 {
		max = 20
	}
	return &HTMLSource{
		id:        opts.ID,
		searchURL: opts.SearchURL,
		sel:       opts.Selectors,
		userAgent: ua,
		timeout:   to,
		maxItems:  max,
	}, nil
}

func (s *HTMLSource) Name() string { return s.id }

// Fetch loads the search page for query and extracts one candidate per item.
func (s *HTMLSource) Fetch(ctx context.Context, query string) ([]model.RawCandidate, error) {
	target := fmt.Sprintf(s.searchURL, url.QueryEscape(strings.TrimSpace(query)))

	c := colly.NewCollector(
		colly.UserAgent(s.userAgent),
		colly.StdlibContext(ctx),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(s.timeout)

	var out []model.RawCandidate
	c.OnHTML(s.sel.Item, func(e *colly.HTMLElement) {
		if len(out) >= s.maxItems {
			return
		}
		name := text(e, s.sel.Name)
		if name == "" {
			return
		}
		cand := model.RawCandidate{
			Name:         name,
			Manufacturer: text(e, s.sel.Manufacturer),
			Country:      text(e, s.sel.Country),
			Description:  text(e, s.sel.Description),
			ImageURL:     attrURL(e, s.sel.Image, "src"),
			Link:         attrURL(e, s.sel.Link, "href"),
			SourceID:     s.id,
		}
		if p, ok := ParsePrice(text(e, s.sel.Price)); ok {
			cand.Price = model.Int64(p)
		}
		out = append(out, cand)
	})

	if err := c.Visit(target); err != nil {
		return nil, fmt.Errorf("%s: visit %s: %w", s.id, target, err)
	}
	c.Wait()
	return out, nil
}

func text(e *colly.HTMLElement, sel string) string {
	if sel == "" {
		return ""
	}
	return strings.Join(strings.Fields(e.ChildText(sel)), " ")
}

func attrURL(e *colly.HTMLElement, sel, attr string) string {
	if sel == "" {
		return ""
	}
	v := strings.TrimSpace(e.ChildAttr(sel, attr))
	if v == "" {
		return ""
	}
	return e.Request.AbsoluteURL(v)
}
