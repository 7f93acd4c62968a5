package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPSearcher queries a JSON product search API:
//
//	GET {base}/search?q=<query>&limit=<n>  -> {"products":[...]}
//	GET {base}/products/{id}               -> Product
type HTTPSearcher struct {
	base    *url.URL
	apiKey  string
	client  *http.Client
	timeout time.Duration
}

var _ Searcher = (*HTTPSearcher)(nil)

// HTTPOption configures an HTTPSearcher.
type HTTPOption func(*HTTPSearcher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSearcher) { s.client = c }
}

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) HTTPOption {
	return func(s *HTTPSearcher) { s.apiKey = key }
}

// WithTimeout bounds each upstream call. Zero disables the bound.
func WithTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPSearcher) { s.timeout = d }
}

// NewHTTPSearcher returns a searcher rooted at baseURL.
func NewHTTPSearcher(baseURL string, opts ...HTTPOption) (*HTTPSearcher, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid search api url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("search api url must use http or https, got %q", u.Scheme)
	}
	s := &HTTPSearcher{base: u, client: http.DefaultClient, timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type searchResponse struct {
	Products []Product `json:"products"`
}

func (s *HTTPSearcher) Search(ctx context.Context, query string, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	u := s.base.JoinPath("search")
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	var res searchResponse
	if err := s.getJSON(ctx, u, &res); err != nil {
		return nil, err
	}
	if len(res.Products) > limit {
		res.Products = res.Products[:limit]
	}
	return res.Products, nil
}

func (s *HTTPSearcher) Product(ctx context.Context, id string) (Product, error) {
	var p Product
	if err := s.getJSON(ctx, s.base.JoinPath("products", id), &p); err != nil {
		return Product{}, err
	}
	return p, nil
}

func (s *HTTPSearcher) getJSON(ctx context.Context, u *url.URL, out any) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: request timed out", ErrUpstream)
		}
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrProductNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: unexpected status %d", ErrUpstream, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("%w: invalid response: %v", ErrUpstream, err)
	}
	return nil
}
