package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/signing"
	"github.com/flightcontrol-io/flightcontrol/internal/skills"
	"github.com/flightcontrol-io/flightcontrol/internal/usecase"
	"github.com/gin-gonic/gin"
)

const (
	errInternalServer = "Internal server error"
	errTokenInvalid   = "Download token is invalid or expired"
)

// respondError maps domain errors onto HTTP statuses. Anything unmapped is a
// 500 and gets logged with the operation name; expected client errors do not.
func respondError(c *gin.Context, logger *slog.Logger, op string, err error) {
	var validation *skills.ValidationError
	if errors.As(err, &validation) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": validation.Msg})
		return
	}

	switch {
	case errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrRunNotFound),
		errors.Is(err, domain.ErrWorkerNotFound),
		errors.Is(err, domain.ErrScheduleNotFound),
		errors.Is(err, domain.ErrCredentialNotFound),
		errors.Is(err, domain.ErrSkillNotFound),
		errors.Is(err, domain.ErrSkillFileNotFound),
		errors.Is(err, domain.ErrArtifactNotFound),
		errors.Is(err, domain.ErrWorkspaceNotFound),
		errors.Is(err, domain.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrCredentialConflict),
		errors.Is(err, domain.ErrSkillNameConflict),
		errors.Is(err, domain.ErrWorkspaceConflict),
		errors.Is(err, domain.ErrMembershipConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidCronExpr),
		errors.Is(err, domain.ErrRunNotCancellable),
		errors.Is(err, usecase.ErrInvalidRunStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, signing.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": errTokenInvalid})
	default:
		logger.Error(op, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
	}
}
