package handlers

import (
	"context"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/lettable/deposync/app/dto"
	businessflow "github.com/lettable/deposync/business_flow"
	"github.com/lettable/deposync/utils"
)

// IntegrationHandlerInterface defines the contract for integration handlers
type IntegrationHandlerInterface interface {
	TriggerDeposit(c fiber.Ctx) error
	RunTick(c fiber.Ctx) error
	GetJob(c fiber.Ctx) error
	CancelJob(c fiber.Ctx) error
}

// IntegrationHandler handles deposit integration HTTP requests
type IntegrationHandler struct {
	sagaFlow  businessflow.DepositSagaFlow
	tickFlow  businessflow.TickFlow
	adminFlow businessflow.JobAdminFlow
	validator *validator.Validate
}

// NewIntegrationHandler creates a new integration handler
func NewIntegrationHandler(
	sagaFlow businessflow.DepositSagaFlow,
	tickFlow businessflow.TickFlow,
	adminFlow businessflow.JobAdminFlow,
) *IntegrationHandler {
	return &IntegrationHandler{
		sagaFlow:  sagaFlow,
		tickFlow:  tickFlow,
		adminFlow: adminFlow,
		validator: validator.New(),
	}
}

func (h *IntegrationHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *IntegrationHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// TriggerDeposit runs the registration saga synchronously for one record.
// Completion returns 200, a deferral returns 202 with the missing-field
// summary and next-retry estimate, a fatal outcome returns 422.
func (h *IntegrationHandler) TriggerDeposit(c fiber.Ctx) error {
	var req dto.TriggerDepositRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	result, err := h.sagaFlow.Trigger(h.createRequestContext(c, "/api/v1/integrations/deposits/trigger"), &req)
	if err != nil {
		if businessflow.IsDuplicateTrigger(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Trigger for this record was just processed", "DUPLICATE_TRIGGER", nil)
		}
		if businessflow.IsJobAlreadyProcessing(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Job is already being processed", "JOB_PROCESSING", nil)
		}
		if businessflow.IsJobAlreadyTerminal(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Job already reached a terminal state", "JOB_TERMINAL", nil)
		}
		if result != nil && result.Outcome == businessflow.SagaOutcomeFailed {
			return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Deposit registration failed", "REGISTRATION_FAILED", result.Reason)
		}

		log.Println("Deposit trigger failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Deposit trigger failed", "TRIGGER_FAILED", nil)
	}

	response := triggerResponse(result)
	switch result.Outcome {
	case businessflow.SagaOutcomeCompleted:
		return h.SuccessResponse(c, fiber.StatusOK, "Deposit registered successfully", response)
	case businessflow.SagaOutcomeDeferred:
		return h.SuccessResponse(c, fiber.StatusAccepted, "Registration accepted, pending data", response)
	default:
		return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Deposit registration failed", "REGISTRATION_FAILED", result.Reason)
	}
}

// RunTick performs one sweep and one retry batch on demand. The periodic
// worker calls the same flow; this endpoint exists for operators and tests.
func (h *IntegrationHandler) RunTick(c fiber.Ctx) error {
	summary, err := h.tickFlow.RunTick(h.createRequestContextWithTimeout(c, "/api/v1/integrations/deposits/tick", 5*time.Minute))
	if err != nil {
		log.Println("Tick failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Tick failed", "TICK_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Tick completed", dto.TickResponse{
		Processed:    summary.Processed,
		Completed:    summary.Completed,
		Failed:       summary.Failed,
		StillPending: summary.StillPending,
		Swept:        summary.Swept,
	})
}

// GetJob returns the state of one job, active or archived.
func (h *IntegrationHandler) GetJob(c fiber.Ctx) error {
	jobUUID, err := uuid.Parse(c.Params("uuid"))
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid job UUID", "INVALID_UUID", nil)
	}

	job, err := h.adminFlow.GetJob(h.createRequestContext(c, "/api/v1/integrations/deposits/jobs"), jobUUID)
	if err != nil {
		if businessflow.IsJobNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Job not found", "JOB_NOT_FOUND", nil)
		}
		log.Println("Job lookup failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Job lookup failed", "JOB_LOOKUP_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Job retrieved", job)
}

// CancelJob cancels a pending job.
func (h *IntegrationHandler) CancelJob(c fiber.Ctx) error {
	jobUUID, err := uuid.Parse(c.Params("uuid"))
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid job UUID", "INVALID_UUID", nil)
	}

	result, err := h.adminFlow.CancelJob(h.createRequestContext(c, "/api/v1/integrations/deposits/jobs/cancel"), jobUUID)
	if err != nil {
		if businessflow.IsJobNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Job not found", "JOB_NOT_FOUND", nil)
		}
		if businessflow.IsJobAlreadyProcessing(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Job is being processed", "JOB_PROCESSING", nil)
		}
		if businessflow.IsJobAlreadyTerminal(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Job already reached a terminal state", "JOB_TERMINAL", nil)
		}
		log.Println("Job cancellation failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Job cancellation failed", "JOB_CANCEL_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Job cancelled", result)
}

func triggerResponse(result *businessflow.SagaResult) dto.TriggerDepositResponse {
	response := dto.TriggerDepositResponse{
		Outcome:            result.Outcome,
		MissingFields:      result.MissingFields,
		NextAttemptAt:      result.NextAttemptAt,
		SchemeDepositID:    result.SchemeDepositID,
		SchemeConfirmation: result.SchemeConfirmation,
		Reason:             result.Reason,
	}
	if result.Job != nil {
		response.JobUUID = result.Job.UUID.String()
		response.Status = string(result.Job.Status)
	}
	return response
}

func (h *IntegrationHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	return h.createRequestContextWithTimeout(c, endpoint, 30*time.Second)
}

func (h *IntegrationHandler) createRequestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel)
	return ctx
}
