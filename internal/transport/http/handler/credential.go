package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/transport/http/middleware"
	"github.com/flightcontrol-io/flightcontrol/internal/usecase"
	"github.com/gin-gonic/gin"
)

type CredentialHandler struct {
	uc     *usecase.CredentialUsecase
	logger *slog.Logger
}

func NewCredentialHandler(uc *usecase.CredentialUsecase, logger *slog.Logger) *CredentialHandler {
	return &CredentialHandler{uc: uc, logger: logger.With("component", "credential_handler")}
}

type createCredentialRequest struct {
	Name        string  `json:"name"    binding:"required,max=256"`
	EnvVar      string  `json:"env_var" binding:"required,max=256"`
	Value       string  `json:"value"   binding:"required"`
	Description *string `json:"description"`
}

type updateCredentialRequest struct {
	Name        *string `json:"name"    binding:"omitempty,max=256"`
	EnvVar      *string `json:"env_var" binding:"omitempty,max=256"`
	Value       *string `json:"value"`
	Description *string `json:"description"`
}

// credentialResponse carries metadata only; the value never leaves the server
// except inside a dispatch envelope.
type credentialResponse struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	EnvVar      string    `json:"env_var"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toCredentialResponse(cr *domain.Credential) credentialResponse {
	return credentialResponse{
		ID:          cr.ID,
		WorkspaceID: cr.WorkspaceID,
		Name:        cr.Name,
		EnvVar:      cr.EnvVar,
		Description: cr.Description,
		CreatedAt:   cr.CreatedAt,
		UpdatedAt:   cr.UpdatedAt,
	}
}

func (h *CredentialHandler) Create(c *gin.Context) {
	var req createCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cred, err := h.uc.CreateCredential(c.Request.Context(), middleware.AuthFrom(c).WorkspaceID, usecase.CredentialInput{
		Name:        req.Name,
		EnvVar:      req.EnvVar,
		Value:       req.Value,
		Description: req.Description,
	})
	if err != nil {
		respondError(c, h.logger, "create credential", err)
		return
	}
	c.JSON(http.StatusCreated, toCredentialResponse(cred))
}

func (h *CredentialHandler) List(c *gin.Context) {
	creds, err := h.uc.ListCredentials(c.Request.Context(), middleware.AuthFrom(c).WorkspaceID)
	if err != nil {
		respondError(c, h.logger, "list credentials", err)
		return
	}

	items := make([]credentialResponse, len(creds))
	for i, cr := range creds {
		items[i] = toCredentialResponse(cr)
	}
	c.JSON(http.StatusOK, gin.H{"credentials": items})
}

func (h *CredentialHandler) GetByID(c *gin.Context) {
	cred, err := h.uc.GetCredential(c.Request.Context(), c.Param("id"), middleware.AuthFrom(c).WorkspaceID)
	if err != nil {
		respondError(c, h.logger, "get credential", err)
		return
	}
	c.JSON(http.StatusOK, toCredentialResponse(cred))
}

func (h *CredentialHandler) Update(c *gin.Context) {
	var req updateCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cred, err := h.uc.UpdateCredential(c.Request.Context(), c.Param("id"), middleware.AuthFrom(c).WorkspaceID, usecase.UpdateCredentialInput{
		Name:        req.Name,
		EnvVar:      req.EnvVar,
		Value:       req.Value,
		Description: req.Description,
	})
	if err != nil {
		respondError(c, h.logger, "update credential", err)
		return
	}
	c.JSON(http.StatusOK, toCredentialResponse(cred))
}

func (h *CredentialHandler) Delete(c *gin.Context) {
	if err := h.uc.DeleteCredential(c.Request.Context(), c.Param("id"), middleware.AuthFrom(c).WorkspaceID); err != nil {
		respondError(c, h.logger, "delete credential", err)
		return
	}
	c.Status(http.StatusNoContent)
}
