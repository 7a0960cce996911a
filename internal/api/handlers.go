// Package api exposes the chat controller to the presentation layer.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"oneiro/internal/controller"
	"oneiro/internal/gateway"
	"oneiro/internal/store"
	"oneiro/internal/voice"
)

// Handler wires HTTP routes to the session controller.
type Handler struct {
	ctrl  *controller.Controller
	state store.Store
}

// NewHandler constructs a Handler instance.
func NewHandler(ctrl *controller.Controller, state store.Store) *Handler {
	return &Handler{ctrl: ctrl, state: state}
}

// RegisterRoutes attaches the chat routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	chat := router.Group("/api/chat")
	chat.GET("/state", h.getState)
	chat.POST("/init", h.initialize)
	chat.POST("/turn", h.submitTurn)
	chat.POST("/register", h.register)
	chat.POST("/logout", h.logout)
	chat.POST("/payment", h.requestPayment)
	chat.POST("/voice/capture", h.toggleCapture)
	chat.POST("/voice/playback", h.togglePlayback)
}

func (h *Handler) getState(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctrl.State())
}

// initialize re-enters the tier recorded in persisted state: registered when
// the full profile is present, guest otherwise.
func (h *Handler) initialize(c *gin.Context) {
	identity, err := controller.LoadIdentity(c.Request.Context(), h.state)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.ctrl.Initialize(c.Request.Context(), identity); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.ctrl.State())
}

type turnRequest struct {
	Text string `json:"text"`
}

func (h *Handler) submitTurn(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	err := h.ctrl.SubmitTurn(c.Request.Context(), req.Text)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, h.ctrl.State())
	case errors.Is(err, controller.ErrTooShort):
		// Validation notices never enter the timeline.
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Пожалуйста, опишите свой сон немного подробнее. Минимум 10 символов."})
	case errors.Is(err, controller.ErrTurnInFlight), errors.Is(err, controller.ErrHistoryLoading):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, controller.ErrRegistrationRequired):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "registration_required": true})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type registerRequest struct {
	FirstName string  `json:"first_name"`
	LastName  *string `json:"last_name"`
	DOB       string  `json:"dob"`
	Phone     string  `json:"phone"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.FirstName == "" || req.DOB == "" || req.Phone == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Имя, дата рождения и телефон обязательны для заполнения."})
		return
	}
	user, err := h.ctrl.Register(c.Request.Context(), req.FirstName, req.LastName, req.DOB, req.Phone)
	if err != nil {
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) {
			// Surface the backend diagnostic verbatim; identity stays unset.
			c.JSON(apiErr.Status, gin.H{"error": apiErr.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Не удалось связаться с сервером. Попробуйте снова."})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.ctrl.Logout(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.ctrl.State())
}

func (h *Handler) requestPayment(c *gin.Context) {
	url, err := h.ctrl.RequestPayment(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"payment_url": url})
	case errors.Is(err, controller.ErrRegistrationRequired):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "registration_required": true})
	default:
		// Non-fatal: the timeline is untouched, the caller shows a notice.
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func (h *Handler) toggleCapture(c *gin.Context) {
	if err := h.ctrl.ToggleCapture(); err != nil {
		if errors.Is(err, voice.ErrNoCapability) {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "Извините, распознавание речи недоступно."})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.ctrl.State())
}

type playbackRequest struct {
	Index int `json:"index"`
}

func (h *Handler) togglePlayback(c *gin.Context) {
	var req playbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.ctrl.TogglePlayback(req.Index); err != nil {
		if errors.Is(err, voice.ErrNoCapability) {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "Извините, озвучка текста недоступна."})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.ctrl.State())
}
