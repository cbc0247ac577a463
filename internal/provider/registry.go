package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
)

// RegistryAPIOptions configures a RegistryAPI.
type RegistryAPIOptions struct {
	ID        string
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// RPS bounds outgoing requests per second; <= 0 disables limiting.
	RPS float64
}

// RegistryAPI queries a JSON drug registry:
//
//	GET {base}/drugs?name=...
//	  -> {"items":[...]} or [...]
type RegistryAPI struct {
	id        string
	baseURL   string
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
}

type registryItem struct {
	TradeName         string   `json:"trade_name"`
	InternationalName string   `json:"international_name"`
	Price             *float64 `json:"price"`
	Manufacturer      string   `json:"manufacturer"`
	Country           string   `json:"country"`
	ImageURL          string   `json:"image_url"`
	URL               string   `json:"url"`
	Description       string   `json:"description"`
}

func NewRegistryAPI(opts RegistryAPIOptions) (*RegistryAPI, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("BaseURL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}
	id := opts.ID
	if id == "" {
		id = "registry"
	}
	to := opts.Timeout
	if to <= 0 {
		to = 10 * time.Second
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "drug-price-aggregator/1.0"
	}
	var lim *rate.Limiter
	if opts.RPS > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}
	return &RegistryAPI{
		id:        id,
		baseURL:   strings.TrimRight(base, "/"),
		client:    &http.Client{Timeout: to},
		userAgent: ua,
		limiter:   lim,
	}, nil
}

func (a *RegistryAPI) Name() string { return a.id }

func (a *RegistryAPI) Fetch(ctx context.Context, query string) ([]model.RawCandidate, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	u := a.baseURL + "/drugs?name=" + url.QueryEscape(strings.TrimSpace(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("registry status %d", resp.StatusCode)
	}
	items, err := decodeRegistryItems(body)
	if err != nil {
		return nil, err
	}

	out := make([]model.RawCandidate, 0, len(items))
	for _, it := range items {
		name := strings.TrimSpace(it.TradeName)
		if name == "" {
			name = strings.TrimSpace(it.InternationalName)
		}
		if name == "" {
			continue
		}
		c := model.RawCandidate{
			Name:         name,
			Manufacturer: strings.TrimSpace(it.Manufacturer),
			Country:      strings.TrimSpace(it.Country),
			ImageURL:     strings.TrimSpace(it.ImageURL),
			Link:         strings.TrimSpace(it.URL),
			Description:  strings.TrimSpace(it.Description),
			SourceID:     a.id,
		}
		if it.Price != nil {
			if p, ok := MajorToMinor(*it.Price); ok {
				c.Price = model.Int64(p)
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func decodeRegistryItems(body []byte) ([]registryItem, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] == '[' {
		var items []registryItem
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decode registry list: %w", err)
		}
		return items, nil
	}
	var wrapped struct {
		Items []registryItem `json:"items"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decode registry response: %w", err)
	}
	return wrapped.Items, nil
}
