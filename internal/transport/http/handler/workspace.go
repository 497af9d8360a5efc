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

type WorkspaceHandler struct {
	uc     *usecase.WorkspaceUsecase
	logger *slog.Logger
}

func NewWorkspaceHandler(uc *usecase.WorkspaceUsecase, logger *slog.Logger) *WorkspaceHandler {
	return &WorkspaceHandler{uc: uc, logger: logger.With("component", "workspace_handler")}
}

type createWorkspaceRequest struct {
	Name        string  `json:"name" binding:"required,max=256"`
	Slug        string  `json:"slug" binding:"required,max=64,lowercase"`
	Description *string `json:"description"`
}

type workspaceResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toWorkspaceResponse(ws *domain.Workspace) workspaceResponse {
	return workspaceResponse{
		ID:          ws.ID,
		Name:        ws.Name,
		Slug:        ws.Slug,
		Description: ws.Description,
		CreatedAt:   ws.CreatedAt,
		UpdatedAt:   ws.UpdatedAt,
	}
}

func (h *WorkspaceHandler) Create(c *gin.Context) {
	var req createWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws, err := h.uc.CreateWorkspace(c.Request.Context(), middleware.AuthFrom(c).User.ID, usecase.CreateWorkspaceInput{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
	})
	if err != nil {
		respondError(c, h.logger, "create workspace", err)
		return
	}
	c.JSON(http.StatusCreated, toWorkspaceResponse(ws))
}

func (h *WorkspaceHandler) List(c *gin.Context) {
	workspaces, err := h.uc.ListWorkspaces(c.Request.Context(), middleware.AuthFrom(c).User.ID)
	if err != nil {
		respondError(c, h.logger, "list workspaces", err)
		return
	}

	items := make([]workspaceResponse, len(workspaces))
	for i, ws := range workspaces {
		items[i] = toWorkspaceResponse(ws)
	}
	c.JSON(http.StatusOK, gin.H{"workspaces": items})
}

func (h *WorkspaceHandler) GetByID(c *gin.Context) {
	ws, err := h.uc.GetWorkspace(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "get workspace", err)
		return
	}
	c.JSON(http.StatusOK, toWorkspaceResponse(ws))
}

// Me describes the authenticated caller: user, key role and active workspace.
func (h *WorkspaceHandler) Me(c *gin.Context) {
	auth := middleware.AuthFrom(c)

	resp := gin.H{
		"user_id":      auth.User.ID,
		"username":     auth.User.Username,
		"workspace_id": auth.WorkspaceID,
	}
	if auth.APIKey != nil {
		resp["key_role"] = string(auth.APIKey.Role)
	}
	c.JSON(http.StatusOK, resp)
}

type memberResponse struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *WorkspaceHandler) ListMembers(c *gin.Context) {
	members, err := h.uc.ListMembers(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "list workspace members", err)
		return
	}

	items := make([]memberResponse, len(members))
	for i, m := range members {
		items[i] = memberResponse{UserID: m.UserID, Role: string(m.Role), CreatedAt: m.CreatedAt}
	}
	c.JSON(http.StatusOK, gin.H{"members": items})
}

type createAPIKeyRequest struct {
	Name string `json:"name" binding:"required,max=256"`
	Role string `json:"role" binding:"omitempty,oneof=admin worker"`
}

// CreateAPIKey mints a token for the calling user and returns the raw value
// exactly once.
func (h *WorkspaceHandler) CreateAPIKey(c *gin.Context) {
	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key, raw, err := h.uc.CreateAPIKey(c.Request.Context(), middleware.AuthFrom(c).User.ID, usecase.CreateAPIKeyInput{
		Name: req.Name,
		Role: domain.KeyRole(req.Role),
	})
	if err != nil {
		respondError(c, h.logger, "create api key", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         key.ID,
		"name":       key.Name,
		"role":       string(key.Role),
		"key":        raw,
		"created_at": key.CreatedAt,
	})
}
