package http

import (
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/xcafe/backend"
	"github.com/layer-3/xcafe/chains"
	"github.com/layer-3/xcafe/core"
	"github.com/sirupsen/logrus"
)

// Handlers contains the HTTP handlers of the API
type Handlers struct {
	auth    *backend.AuthService
	widgets *backend.WidgetService
	catalog *chains.Catalog
	logger  logrus.FieldLogger
	started time.Time
}

// NewHandlers creates new handlers
func NewHandlers(auth *backend.AuthService, widgets *backend.WidgetService, catalog *chains.Catalog, logger logrus.FieldLogger) *Handlers {
	return &Handlers{
		auth:    auth,
		widgets: widgets,
		catalog: catalog,
		logger:  logger,
		started: time.Now(),
	}
}

// Verify handles wallet sign-in
func (h *Handlers) Verify(c *gin.Context) {
	var req core.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	res, err := h.auth.Verify(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !res.Success {
		c.JSON(http.StatusUnauthorized, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Setup handles first admin promotion
func (h *Handlers) Setup(c *gin.Context) {
	var req core.SetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	token, _ := bearerToken(c)

	res, err := h.auth.Setup(c.Request.Context(), token, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Status reports platform counters
func (h *Handlers) Status(c *gin.Context) {
	res, err := h.auth.Status(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Health is a liveness probe
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.started).Seconds(),
		"version":   runtime.Version(),
	})
}

// Networks lists the supported networks
func (h *Handlers) Networks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"defaultChain": h.catalog.DefaultChainID(),
		"networks":     h.catalog.Supported(),
	})
}

func (h *Handlers) GetUser(c *gin.Context) {
	user, err := h.auth.GetUser(c.Request.Context(), c.Param("address"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}

func (h *Handlers) CreateUser(c *gin.Context) {
	var req core.User
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	user, err := h.auth.CreateUser(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "user": user})
}

func (h *Handlers) UpdateUser(c *gin.Context) {
	var req core.UserUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	user, err := h.auth.UpdateUser(c.Request.Context(), c.Param("address"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}

func (h *Handlers) ListWidgets(c *gin.Context) {
	token, _ := bearerToken(c)
	widgets, err := h.widgets.ListWidgets(c.Request.Context(), token)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "widgets": widgets})
}

func (h *Handlers) CreateWidget(c *gin.Context) {
	var req core.WidgetInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	token, _ := bearerToken(c)
	widget, err := h.widgets.CreateWidget(c.Request.Context(), token, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "widget": widget})
}

func (h *Handlers) GetWidget(c *gin.Context) {
	token, _ := bearerToken(c)
	widget, err := h.widgets.GetWidget(c.Request.Context(), token, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "widget": widget})
}

func (h *Handlers) UpdateWidget(c *gin.Context) {
	var req core.WidgetInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	token, _ := bearerToken(c)
	widget, err := h.widgets.UpdateWidget(c.Request.Context(), token, c.Param("id"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "widget": widget})
}

func (h *Handlers) DeleteWidget(c *gin.Context) {
	token, _ := bearerToken(c)
	if err := h.widgets.DeleteWidget(c.Request.Context(), token, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Widget deleted"})
}

// fail maps service errors to status codes
func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "Internal server error"

	switch {
	case errors.Is(err, core.ErrInvalidAddress),
		errors.Is(err, core.ErrInvalidRequest):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, core.ErrTokenExpired):
		status, msg = http.StatusUnauthorized, "Token expired"
	case errors.Is(err, core.ErrInvalidToken):
		status, msg = http.StatusForbidden, "Invalid token"
	case errors.Is(err, core.ErrForbidden):
		status, msg = http.StatusForbidden, "Forbidden"
	case errors.Is(err, core.ErrUserNotFound):
		status, msg = http.StatusNotFound, "User not found"
	case errors.Is(err, core.ErrWidgetNotFound):
		status, msg = http.StatusNotFound, "Widget not found"
	case errors.Is(err, core.ErrUserExists):
		status, msg = http.StatusConflict, "User already exists"
	default:
		h.logger.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}

	c.JSON(status, gin.H{"success": false, "error": msg})
}
