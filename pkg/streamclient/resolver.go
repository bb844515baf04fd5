package streamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cypherlabdev/odds-aggregator-service/internal/models"
)

// HTTPResolver reads pages and rows from the read API
type HTTPResolver struct {
	BaseURL string // e.g., http://localhost:8080
	Header  http.Header
	Client  *http.Client
}

// List implements Resolver
func (r HTTPResolver) List(ctx context.Context, key models.CompoundKey, cursor string, pageSize int) (*models.Page, error) {
	q := url.Values{}
	q.Set("sport", key.Sport)
	q.Set("market", key.Market)
	q.Set("scope", key.Scope)
	q.Set("event", key.Event)
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if pageSize > 0 {
		q.Set("limit", strconv.Itoa(pageSize))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.BaseURL+"/api/v1/props/table?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	var page models.Page
	if err := r.do(req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Resolve implements Resolver
func (r HTTPResolver) Resolve(ctx context.Context, sids []string) ([]models.ResolvedRow, error) {
	body, err := json.Marshal(map[string][]string{"sids": sids})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/api/v1/props/rows", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		Rows []models.ResolvedRow `json:"rows"`
	}
	if err := r.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

func (r HTTPResolver) do(req *http.Request, out any) error {
	for name, values := range r.Header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call read api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("read api %s returned %d", req.URL.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
