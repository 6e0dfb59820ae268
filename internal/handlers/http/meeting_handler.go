package http

import (
	"errors"
	"io"
	"net/http"

	"meetjoin/internal/core/domain"
	"meetjoin/internal/core/ports"
	"meetjoin/internal/infrastructure/surfaces"
	apperrors "meetjoin/pkg/errors"
	"meetjoin/pkg/utils"

	"github.com/gin-gonic/gin"
)

// SurfaceView is the headless surface grid as seen by the control API.
type SurfaceView interface {
	PreviewSurface() ports.Surface
	Snapshot() []surfaces.SurfaceStats
}

// MeetingHandler maps control API requests onto coordinator operations.
// Failures are attached to the gin context for the error middleware.
type MeetingHandler struct {
	coordinator      ports.MeetingCoordinator
	surfaces         SurfaceView
	defaultMeetingID string
}

var _ ports.MeetingHTTPHandler = (*MeetingHandler)(nil)

func NewMeetingHandler(
	coordinator ports.MeetingCoordinator,
	surfaces SurfaceView,
	defaultMeetingID string,
) *MeetingHandler {
	return &MeetingHandler{
		coordinator:      coordinator,
		surfaces:         surfaces,
		defaultMeetingID: defaultMeetingID,
	}
}

func (h *MeetingHandler) SetupRoutes(router gin.IRouter, middlewares ...gin.HandlerFunc) {
	api := router.Group("/api/v1", middlewares...)
	{
		api.POST("/meeting/join", h.Join)
		api.POST("/meeting/leave", h.Leave)
		api.GET("/meeting/status", h.Status)

		api.POST("/preview/start", h.PreviewStart)
		api.POST("/preview/stop", h.PreviewStop)

		api.POST("/transform/start", h.TransformStart)
		api.POST("/transform/stop", h.TransformStop)

		api.GET("/surfaces", h.Surfaces)
	}
}

type joinRequest struct {
	MeetingID string `json:"meeting_id"`
}

// Join initializes the meeting. An empty body joins the configured default
// meeting.
func (h *MeetingHandler) Join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		_ = c.Error(apperrors.NewInvalidInputError("invalid request body: " + err.Error()))
		return
	}
	req.MeetingID = utils.SanitizeString(req.MeetingID)
	if req.MeetingID == "" {
		req.MeetingID = h.defaultMeetingID
	}

	if err := h.coordinator.Initialize(c.Request.Context(), req.MeetingID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, h.coordinator.Status())
}

func (h *MeetingHandler) Leave(c *gin.Context) {
	if err := h.coordinator.Leave(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, h.coordinator.Status())
}

func (h *MeetingHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.coordinator.Status())
}

func (h *MeetingHandler) PreviewStart(c *gin.Context) {
	if err := h.coordinator.PreviewStart(c.Request.Context(), h.surfaces.PreviewSurface()); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, h.coordinator.Status())
}

func (h *MeetingHandler) PreviewStop(c *gin.Context) {
	if err := h.coordinator.PreviewStop(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, h.coordinator.Status())
}

type transformRequest struct {
	Kind         string `json:"kind" binding:"required"`
	BlurStrength int    `json:"blur_strength"`
	ImageURL     string `json:"image_url"`
}

type transformResponse struct {
	Transform          domain.TransformKind `json:"transform"`
	UnderlyingDeviceID string               `json:"underlying_device_id,omitempty"`
	PipelineID         string               `json:"pipeline_id,omitempty"`
}

func newTransformResponse(st domain.TransformState) transformResponse {
	return transformResponse{
		Transform:          st.Kind,
		UnderlyingDeviceID: st.UnderlyingDeviceID,
		PipelineID:         st.PipelineID,
	}
}

func (h *MeetingHandler) TransformStart(c *gin.Context) {
	var req transformRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("invalid request body: " + err.Error()))
		return
	}
	kind, err := domain.ParseTransformKind(req.Kind)
	if err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	if !h.coordinator.TransformSupported(kind) {
		_ = c.Error(apperrors.NewAppError(apperrors.ErrCodeTransformUnsupported, "transform not supported by this runtime").
			WithContext("kind", string(kind)))
		return
	}

	state, err := h.coordinator.TransformStart(c.Request.Context(), kind, domain.TransformParams{
		BlurStrength: req.BlurStrength,
		ImageURL:     req.ImageURL,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, newTransformResponse(state))
}

func (h *MeetingHandler) TransformStop(c *gin.Context) {
	if err := h.coordinator.TransformStop(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, newTransformResponse(domain.InactiveTransform))
}

// Surfaces lists tile bindings next to the render counters of each surface.
func (h *MeetingHandler) Surfaces(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tiles":    h.coordinator.Surfaces(),
		"surfaces": h.surfaces.Snapshot(),
	})
}
