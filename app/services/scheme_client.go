package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lettable/deposync/config"
	"github.com/lettable/deposync/models"
)

// SchemeClient submits deposit registrations to the protection scheme.
// A nil error with a populated result means the deposit was registered;
// submission rejections come back as errors whose message feeds the
// error classifier.
type SchemeClient interface {
	SubmitDeposit(ctx context.Context, request *models.SchemeDepositRequest) (*models.SchemeDepositResult, error)
}

// SchemeClientImpl implements SchemeClient over the scheme HTTP API
type SchemeClientImpl struct {
	config *config.SchemeConfig
	client *http.Client
}

// NewSchemeClient creates a new scheme client instance
func NewSchemeClient(cfg *config.SchemeConfig) SchemeClient {
	return &SchemeClientImpl{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type schemeSubmitRequest struct {
	MemberID string                      `json:"memberId"`
	Deposit  *models.SchemeDepositRequest `json:"deposit"`
}

type schemeSubmitResponse struct {
	Success            bool   `json:"success"`
	DepositID          string `json:"depositId"`
	ConfirmationNumber string `json:"confirmationNumber"`
	Message            string `json:"message"`
}

// SubmitDeposit registers a deposit with the scheme.
func (s *SchemeClientImpl) SubmitDeposit(ctx context.Context, request *models.SchemeDepositRequest) (*models.SchemeDepositResult, error) {
	body, err := json.Marshal(schemeSubmitRequest{
		MemberID: s.config.MemberID,
		Deposit:  request,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scheme request: %w", err)
	}

	url := strings.TrimRight(s.config.BaseURL, "/") + "/api/v2/deposits"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheme request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to submit deposit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("scheme returned status %d", resp.StatusCode)
	}

	var payload schemeSubmitResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode scheme response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("scheme rejected submission with status %d: %s", resp.StatusCode, payload.Message)
	}
	if !payload.Success {
		return nil, fmt.Errorf("scheme rejected submission: %s", payload.Message)
	}

	return &models.SchemeDepositResult{
		DepositID:          payload.DepositID,
		ConfirmationNumber: payload.ConfirmationNumber,
	}, nil
}

// MockSchemeClient implements SchemeClient for testing
type MockSchemeClient struct {
	Result      *models.SchemeDepositResult
	Submissions []*models.SchemeDepositRequest

	// Errs is consumed one per call; once exhausted, calls succeed with Result.
	Errs []error
}

// NewMockSchemeClient creates a new mock scheme client
func NewMockSchemeClient() *MockSchemeClient {
	return &MockSchemeClient{
		Result: &models.SchemeDepositResult{
			DepositID:          "DEP-TEST-0001",
			ConfirmationNumber: "CONF-0001",
		},
	}
}

// SubmitDeposit records the submission and plays back scripted failures
func (m *MockSchemeClient) SubmitDeposit(ctx context.Context, request *models.SchemeDepositRequest) (*models.SchemeDepositResult, error) {
	m.Submissions = append(m.Submissions, request)
	if len(m.Errs) > 0 {
		err := m.Errs[0]
		m.Errs = m.Errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return m.Result, nil
}
