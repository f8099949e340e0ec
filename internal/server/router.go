package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/relatim/backend/internal/chat"
	"github.com/relatim/backend/internal/directory"
	"github.com/relatim/backend/internal/gateway"
	"github.com/relatim/backend/internal/realtime"
	"github.com/relatim/backend/pkg/apperrors"
)

const userIDContextKey = "relatim_user_id"

// userIDHeader carries the caller's opaque identity. The HTTP layer
// minted it at registration; there is no token abstraction.
const userIDHeader = "X-User-ID"

var (
	errMissingDirectory  = errors.New("directory service dependency required")
	errMissingChat       = errors.New("chat service dependency required")
	errMissingDispatcher = errors.New("delivery dispatcher dependency required")
	errMissingGateway    = errors.New("session gateway dependency required")
	errMissingRegistry   = errors.New("connection registry dependency required")
)

// Dependencies collects everything the HTTP surface routes into.
type Dependencies struct {
	Directory  *directory.Service
	Chat       *chat.Service
	Dispatcher *realtime.Dispatcher
	Registry   *realtime.Registry
	Gateway    *gateway.Gateway
	Logger     *zap.Logger
	Clock      func() time.Time
}

// NewHTTPHandler wires the REST and websocket routes.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Directory == nil {
		return nil, errMissingDirectory
	}
	if deps.Chat == nil {
		return nil, errMissingChat
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}
	if deps.Gateway == nil {
		return nil, errMissingGateway
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", userIDHeader},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		directory:  deps.Directory,
		chat:       deps.Chat,
		dispatcher: deps.Dispatcher,
		registry:   deps.Registry,
		logger:     logger,
		clock:      clock,
	}

	router.GET("/api/health", handler.handleHealth)
	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)
	router.GET("/ws", func(c *gin.Context) {
		deps.Gateway.Handle(c.Writer, c.Request)
	})

	protected := router.Group("/")
	protected.Use(handler.identifyRequest)
	protected.GET("/contacts", handler.handleListContacts)
	protected.POST("/contacts", handler.handleAddContact)
	protected.GET("/conversations/:otherUserId/messages", handler.handleHistory)
	protected.POST("/conversations/:otherUserId/messages", handler.handleSendMessage)

	return router, nil
}

type httpHandler struct {
	directory  *directory.Service
	chat       *chat.Service
	dispatcher *realtime.Dispatcher
	registry   *realtime.Registry
	logger     *zap.Logger
	clock      func() time.Time
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"serverTime":  h.clock().UTC().Format(time.RFC3339),
		"connections": h.registry.Count(),
	})
}

type registerRequestPayload struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.directory.RegisterUser(c.Request.Context(), request.Phone, request.Name)
	if err != nil {
		h.respondError(c, "registration failed", err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type loginRequestPayload struct {
	Phone string `json:"phone"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.directory.Login(c.Request.Context(), request.Phone)
	if err != nil {
		h.respondError(c, "login failed", err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *httpHandler) handleListContacts(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	contacts, err := h.directory.ListContacts(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, "contact list failed", err)
		return
	}
	c.JSON(http.StatusOK, contacts)
}

type addContactRequestPayload struct {
	ContactName  string `json:"contact_name"`
	ContactPhone string `json:"contact_phone"`
}

func (h *httpHandler) handleAddContact(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request addContactRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	contact, err := h.directory.AddContact(c.Request.Context(), userID, request.ContactName, request.ContactPhone)
	if err != nil {
		h.respondError(c, "contact create failed", err)
		return
	}
	c.JSON(http.StatusCreated, contact)
}

func (h *httpHandler) handleHistory(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	otherUserID := c.Param("otherUserId")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		limit = parsed
	}

	history, err := h.chat.HistoryBetween(c.Request.Context(), userID, otherUserID, limit)
	if err != nil {
		h.respondError(c, "history read failed", err)
		return
	}
	c.JSON(http.StatusOK, history)
}

type sendMessageRequestPayload struct {
	Text string `json:"text"`
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	otherUserID := c.Param("otherUserId")

	var request sendMessageRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	conversation, err := h.chat.Resolve(c.Request.Context(), userID, otherUserID)
	if err != nil {
		h.respondError(c, "conversation resolve failed", err)
		return
	}

	message, err := h.chat.Append(c.Request.Context(), conversation.ID, userID, otherUserID, request.Text)
	if err != nil {
		h.respondError(c, "message append failed", err)
		return
	}

	// The message is durable at this point. Fan-out is a best-effort
	// side channel and never fails the request.
	h.dispatcher.Deliver(message)

	c.JSON(http.StatusCreated, message)
}

func (h *httpHandler) identifyRequest(c *gin.Context) {
	userID := strings.TrimSpace(c.GetHeader(userIDHeader))
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_identity"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func (h *httpHandler) respondError(c *gin.Context, logMessage string, err error) {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeInvalidArgument:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case apperrors.CodeNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case apperrors.CodeStorageUnavailable:
		h.logger.Error(logMessage, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_unavailable"})
	default:
		h.logger.Error(logMessage, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
