// Package server exposes the console to the browser: a JSON API over
// gin, a WebSocket push channel, and the media upload proxy.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/moverse/agentdesk/internal/media"
	"github.com/moverse/agentdesk/internal/model"
	"github.com/moverse/agentdesk/internal/send"
	"github.com/moverse/agentdesk/internal/store"
	"github.com/moverse/agentdesk/internal/view"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The daemon serves one trusted browser UI on localhost.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Server wires the console API over the reconciliation engine.
type Server struct {
	engine   *view.Engine
	coord    *send.Coordinator
	uploader *media.Uploader
	db       *store.DB
	hub      *Hub
	tokens   *TokenManager
	logger   *zap.Logger

	httpSrv *http.Server
}

// New creates the server.
func New(engine *view.Engine, coord *send.Coordinator, uploader *media.Uploader, db *store.DB, hub *Hub, tokens *TokenManager, logger *zap.Logger, listenAddr string) *Server {
	s := &Server{
		engine:   engine,
		coord:    coord,
		uploader: uploader,
		db:       db,
		hub:      hub,
		tokens:   tokens,
		logger:   logger,
	}
	s.httpSrv = &http.Server{
		Addr:              listenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the gin route tree.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := AuthMiddleware(s.tokens)

	api := r.Group("/api", auth)
	{
		api.GET("/conversations", s.listConversations)
		api.POST("/conversations/:id/open", s.openConversation)
		api.POST("/conversations/:id/close", s.closeConversation)
		api.GET("/conversations/:id/messages", s.listMessages)
		api.POST("/conversations/:id/messages", s.sendText)
		api.POST("/conversations/:id/media", s.sendMedia)
		api.POST("/uploadMedia", s.uploadMedia)
	}

	r.GET("/ws", auth, s.serveWS)
	return r
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()
}

// Stop shuts the listener down, waiting for in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// conversationDTO is the sidebar list payload.
type conversationDTO struct {
	model.Conversation
	Online bool `json:"online"`
}

func (s *Server) listConversations(c *gin.Context) {
	now := time.Now()
	convs := s.engine.Conversations(c.Query("q"))
	out := make([]conversationDTO, 0, len(convs))
	for _, conv := range convs {
		out = append(out, conversationDTO{
			Conversation: conv,
			Online:       conv.Online(now),
		})
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out, "open_id": s.engine.OpenID()})
}

func (s *Server) openConversation(c *gin.Context) {
	id := c.Param("id")
	msgs, err := s.engine.OpenConversation(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if err := s.db.SaveActiveConversation(id); err != nil {
		s.logger.Warn("failed to persist open conversation", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) closeConversation(c *gin.Context) {
	id := c.Param("id")
	if s.engine.OpenID() != id {
		c.JSON(http.StatusConflict, gin.H{"error": "conversation is not open"})
		return
	}
	s.engine.CloseConversation()
	if err := s.db.SaveActiveConversation(""); err != nil {
		s.logger.Warn("failed to clear open conversation", zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listMessages(c *gin.Context) {
	id := c.Param("id")
	// Reading another thread's messages is an open action: it re-scopes
	// the live feed and zeroes the unread badge.
	if s.engine.OpenID() != id {
		msgs, err := s.engine.OpenConversation(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if err := s.db.SaveActiveConversation(id); err != nil {
			s.logger.Warn("failed to persist open conversation", zap.Error(err))
		}
		c.JSON(http.StatusOK, gin.H{"messages": msgs})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": s.engine.Messages()})
}

type sendTextRequest struct {
	Message string `json:"message"`
}

func (s *Server) sendText(c *gin.Context) {
	var req sendTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	msg, err := s.coord.SubmitText(c.Request.Context(), c.Param("id"), req.Message)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if msg == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": msg})
}

type sendMediaRequest struct {
	MediaURL string `json:"media_url"`
	Caption  string `json:"caption"`
	Kind     string `json:"kind"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	MimeType string `json:"mime_type"`
}

func (s *Server) sendMedia(c *gin.Context) {
	var req sendMediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	att := model.PendingAttachment{
		RemoteMediaURL: req.MediaURL,
		Kind:           model.Kind(req.Kind),
		FileName:       req.FileName,
		FileSize:       req.FileSize,
		MimeType:       req.MimeType,
	}
	msg, err := s.coord.SubmitMedia(c.Request.Context(), c.Param("id"), att, req.Caption)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": msg})
}

func (s *Server) uploadMedia(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file uploaded"})
		return
	}
	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer func() { _ = src.Close() }()

	up, err := s.uploader.Put(c.Request.Context(), c.PostForm("folder"), file.Filename, file.Header.Get("Content-Type"), file.Size, src)
	if err != nil {
		s.logger.Error("media upload failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to upload file"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"bucket":    up.Bucket,
		"path":      up.Path,
		"media_url": up.PublicURL,
		"mime_type": up.MimeType,
		"file_size": up.Size,
	})
}

func (s *Server) serveWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.hub.Attach(conn)
}
