package handler

import (
	"errors"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/academix-api/pkg/errors"
	"github.com/noah-isme/academix-api/pkg/response"
	"github.com/noah-isme/academix-api/pkg/storage"
)

type mediaStore interface {
	Redeem(token string) (*os.File, error)
}

// MediaHandler streams locally stored videos behind signed tokens.
type MediaHandler struct {
	store mediaStore
}

// NewMediaHandler constructs a MediaHandler.
func NewMediaHandler(store mediaStore) *MediaHandler {
	return &MediaHandler{store: store}
}

// Video godoc
// @Summary Stream a lesson video by signed token
// @Tags Media
// @Produce octet-stream
// @Param token query string true "Signed media token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /media/videos [get]
func (h *MediaHandler) Video(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}

	file, err := h.store.Redeem(token)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidToken), errors.Is(err, storage.ErrTokenExpired):
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired media link"))
		case errors.Is(err, storage.ErrObjectNotFound):
			response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "video not found"))
		default:
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open video"))
		}
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open video"))
		return
	}
	c.Header("Cache-Control", "private, no-store")
	http.ServeContent(c.Writer, c.Request, path.Base(file.Name()), info.ModTime(), file)
}
