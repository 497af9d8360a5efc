package handler

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/transport/http/middleware"
	"github.com/flightcontrol-io/flightcontrol/internal/usecase"
	"github.com/gin-gonic/gin"
)

// maxSkillUploadBytes caps the whole multipart body: manifest plus archive.
const maxSkillUploadBytes = 60 << 20

type SkillHandler struct {
	uc     *usecase.SkillUsecase
	logger *slog.Logger
}

func NewSkillHandler(uc *usecase.SkillUsecase, logger *slog.Logger) *SkillHandler {
	return &SkillHandler{uc: uc, logger: logger.With("component", "skill_handler")}
}

type skillResponse struct {
	ID             string              `json:"id"`
	WorkspaceID    string              `json:"workspace_id"`
	Name           string              `json:"name"`
	Description    string              `json:"description"`
	Instructions   string              `json:"instructions,omitempty"`
	AllowedTools   *string             `json:"allowed_tools,omitempty"`
	Metadata       map[string]any      `json:"metadata,omitempty"`
	License        *string             `json:"license,omitempty"`
	Compatibility  *string             `json:"compatibility,omitempty"`
	TotalSizeBytes int64               `json:"total_size_bytes"`
	FileCount      int                 `json:"file_count"`
	Files          []skillFileResponse `json:"files,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

type skillFileResponse struct {
	Path           string `json:"path"`
	SizeBytes      int64  `json:"size_bytes"`
	ChecksumSHA256 string `json:"checksum_sha256"`
	ContentType    string `json:"content_type"`
}

func toSkillResponse(s *domain.Skill, files []*domain.SkillFile) skillResponse {
	resp := skillResponse{
		ID:             s.ID,
		WorkspaceID:    s.WorkspaceID,
		Name:           s.Name,
		Description:    s.Description,
		Instructions:   s.Instructions,
		AllowedTools:   s.AllowedTools,
		Metadata:       s.Metadata,
		License:        s.License,
		Compatibility:  s.Compatibility,
		TotalSizeBytes: s.TotalSizeBytes,
		FileCount:      s.FileCount,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	for _, f := range files {
		resp.Files = append(resp.Files, skillFileResponse{
			Path:           f.FilePath,
			SizeBytes:      f.SizeBytes,
			ChecksumSHA256: f.ChecksumSHA256,
			ContentType:    f.ContentType,
		})
	}
	return resp
}

// Upload accepts a multipart form: "skill_md" is the SKILL.md manifest
// (required), "archive" is an optional zip of supporting files.
func (h *SkillHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSkillUploadBytes)

	manifest, err := readFormFile(c, "skill_md")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'skill_md' is required"})
		return
	}

	var archive []byte
	if data, err := readFormFile(c, "archive"); err == nil {
		archive = data
	}

	skill, err := h.uc.UploadSkill(c.Request.Context(), middleware.AuthFrom(c).WorkspaceID, manifest, archive)
	if err != nil {
		respondError(c, h.logger, "upload skill", err)
		return
	}
	c.JSON(http.StatusCreated, toSkillResponse(skill, nil))
}

func readFormFile(c *gin.Context, field string) ([]byte, error) {
	file, _, err := c.Request.FormFile(field)
	if err != nil {
		return nil, err
	}
	defer func(f multipart.File) { _ = f.Close() }(file)
	return io.ReadAll(file)
}

func (h *SkillHandler) List(c *gin.Context) {
	skills, err := h.uc.ListSkills(c.Request.Context(), middleware.AuthFrom(c).WorkspaceID)
	if err != nil {
		respondError(c, h.logger, "list skills", err)
		return
	}

	items := make([]skillResponse, len(skills))
	for i, s := range skills {
		items[i] = toSkillResponse(s, nil)
	}
	c.JSON(http.StatusOK, gin.H{"skills": items})
}

func (h *SkillHandler) GetByID(c *gin.Context) {
	skill, files, err := h.uc.GetSkill(c.Request.Context(), c.Param("id"), middleware.AuthFrom(c).WorkspaceID)
	if err != nil {
		respondError(c, h.logger, "get skill", err)
		return
	}
	c.JSON(http.StatusOK, toSkillResponse(skill, files))
}

type updateSkillRequest struct {
	Description   *string        `json:"description"`
	Instructions  *string        `json:"instructions"`
	AllowedTools  *string        `json:"allowed_tools"`
	Metadata      map[string]any `json:"metadata"`
	License       *string        `json:"license"`
	Compatibility *string        `json:"compatibility"`
}

// Update patches skill metadata. Absent fields keep their stored values;
// files and the name are immutable here.
func (h *SkillHandler) Update(c *gin.Context) {
	var req updateSkillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	skill, err := h.uc.UpdateSkill(c.Request.Context(), c.Param("id"), middleware.AuthFrom(c).WorkspaceID, usecase.UpdateSkillInput{
		Description:   req.Description,
		Instructions:  req.Instructions,
		AllowedTools:  req.AllowedTools,
		Metadata:      req.Metadata,
		License:       req.License,
		Compatibility: req.Compatibility,
	})
	if err != nil {
		respondError(c, h.logger, "update skill", err)
		return
	}
	c.JSON(http.StatusOK, toSkillResponse(skill, nil))
}

func (h *SkillHandler) Delete(c *gin.Context) {
	if err := h.uc.DeleteSkill(c.Request.Context(), c.Param("id"), middleware.AuthFrom(c).WorkspaceID); err != nil {
		respondError(c, h.logger, "delete skill", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DownloadFile serves a skill file to a bearer of a valid signed token. This
// route sits outside the authenticated group; the token is the credential.
func (h *SkillHandler) DownloadFile(c *gin.Context) {
	filePath := strings.TrimPrefix(c.Param("path"), "/")
	file, rc, err := h.uc.OpenSkillFile(c.Request.Context(), c.Param("id"), filePath, c.Query("token"))
	if err != nil {
		respondError(c, h.logger, "download skill file", err)
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.FilePath))
	c.DataFromReader(http.StatusOK, file.SizeBytes, file.ContentType, rc, nil)
}
