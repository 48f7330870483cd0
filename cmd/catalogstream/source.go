package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/c360/catalogstream/catalog"
	"github.com/c360/catalogstream/errors"
)

// httpSource fetches pages from a JSON endpoint that accepts page and limit
// query parameters and responds with a catalog page document
type httpSource struct {
	endpoint string
	client   *http.Client
}

func newHTTPSource(endpoint string, client *http.Client) *httpSource {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &httpSource{endpoint: endpoint, client: client}
}

// FetchPage implements loader.Source
func (s *httpSource) FetchPage(ctx context.Context, page, limit int) (catalog.Page, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return catalog.Page{}, errors.WrapInvalid(err, "httpSource", "FetchPage", "endpoint parse")
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return catalog.Page{}, errors.WrapInvalid(err, "httpSource", "FetchPage", "request build")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return catalog.Page{}, errors.WrapTransient(err, "httpSource", "FetchPage", "request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return catalog.Page{}, errors.WrapTransient(err, "httpSource", "FetchPage", "request")
		}
		return catalog.Page{}, errors.WrapInvalid(err, "httpSource", "FetchPage", "request")
	}

	var result catalog.Page
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return catalog.Page{}, errors.WrapInvalid(err, "httpSource", "FetchPage", "response decode")
	}
	return result, nil
}
