package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/lettable/deposync/config"
)

// PostcodeClient resolves a postcode to its deposit jurisdiction region.
// Enrichment is non-critical; callers fall back to the configured default
// region when lookup fails.
type PostcodeClient interface {
	LookupRegion(ctx context.Context, postcode string) (string, error)
	DefaultRegion() string
}

// PostcodeClientImpl implements PostcodeClient over the lookup HTTP API
type PostcodeClientImpl struct {
	config *config.PostcodeConfig
	client *http.Client
}

// NewPostcodeClient creates a new postcode client instance
func NewPostcodeClient(cfg *config.PostcodeConfig) PostcodeClient {
	return &PostcodeClientImpl{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type postcodeResponse struct {
	Postcode string `json:"postcode"`
	Region   string `json:"region"`
}

func (s *PostcodeClientImpl) DefaultRegion() string {
	return s.config.DefaultRegion
}

// LookupRegion resolves the region for a postcode.
func (s *PostcodeClientImpl) LookupRegion(ctx context.Context, postcode string) (string, error) {
	lookupURL := fmt.Sprintf("%s/api/postcodes/%s", strings.TrimRight(s.config.BaseURL, "/"), url.PathEscape(postcode))
	req, err := http.NewRequestWithContext(ctx, "GET", lookupURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create postcode request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to look up postcode %s: %w", postcode, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("postcode lookup returned status %d", resp.StatusCode)
	}

	var payload postcodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode postcode response: %w", err)
	}
	if payload.Region == "" {
		return "", fmt.Errorf("postcode lookup returned empty region for %s", postcode)
	}
	return payload.Region, nil
}

// MockPostcodeClient implements PostcodeClient for testing
type MockPostcodeClient struct {
	Regions   map[string]string
	LookupErr error
	Default   string
}

// NewMockPostcodeClient creates a new mock postcode client
func NewMockPostcodeClient() *MockPostcodeClient {
	return &MockPostcodeClient{
		Regions: make(map[string]string),
		Default: "EW",
	}
}

func (m *MockPostcodeClient) DefaultRegion() string {
	return m.Default
}

// LookupRegion returns the scripted region or error
func (m *MockPostcodeClient) LookupRegion(ctx context.Context, postcode string) (string, error) {
	if m.LookupErr != nil {
		return "", m.LookupErr
	}
	if region, ok := m.Regions[postcode]; ok {
		return region, nil
	}
	return "", fmt.Errorf("postcode lookup returned status 404")
}
