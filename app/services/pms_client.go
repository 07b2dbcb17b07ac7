// Package services provides external service integrations for the property management source and the deposit scheme
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lettable/deposync/config"
	"github.com/lettable/deposync/models"
)

// PMSClient fetches tenancy records from the property management system.
type PMSClient interface {
	FetchTenancy(ctx context.Context, agencyCode, branchCode, tenancyID string) (*models.Tenancy, error)
}

// PMSClientImpl implements PMSClient over the PMS HTTP API
type PMSClientImpl struct {
	config *config.PMSConfig
	client *http.Client
}

// NewPMSClient creates a new PMS client instance
func NewPMSClient(cfg *config.PMSConfig) PMSClient {
	return &PMSClientImpl{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// pmsTenancyResponse mirrors the PMS tenancy payload
type pmsTenancyResponse struct {
	Tenancy *models.Tenancy `json:"tenancy"`
}

// FetchTenancy retrieves the current state of a tenancy record. A 404 means
// the record does not exist in the source; any transport or 5xx failure is
// returned as-is for the caller to treat as transient.
func (s *PMSClientImpl) FetchTenancy(ctx context.Context, agencyCode, branchCode, tenancyID string) (*models.Tenancy, error) {
	url := fmt.Sprintf("%s/api/agencies/%s/tenancies/%s", strings.TrimRight(s.config.BaseURL, "/"), agencyCode, tenancyID)
	if branchCode != "" {
		url += "?branch=" + branchCode
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create PMS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tenancy %s: %w", tenancyID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("PMS returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload pmsTenancyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode PMS response: %w", err)
	}
	return payload.Tenancy, nil
}

// MockPMSClient implements PMSClient for testing
type MockPMSClient struct {
	Tenancies map[string]*models.Tenancy
	FetchErr  error
	Calls     int
}

// NewMockPMSClient creates a new mock PMS client
func NewMockPMSClient() *MockPMSClient {
	return &MockPMSClient{
		Tenancies: make(map[string]*models.Tenancy),
	}
}

// SetTenancy registers a tenancy returned by subsequent fetches
func (m *MockPMSClient) SetTenancy(tenancy *models.Tenancy) {
	m.Tenancies[tenancy.TenancyID] = tenancy
}

// FetchTenancy returns the registered tenancy or the scripted error
func (m *MockPMSClient) FetchTenancy(ctx context.Context, agencyCode, branchCode, tenancyID string) (*models.Tenancy, error) {
	m.Calls++
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	return m.Tenancies[tenancyID], nil
}
