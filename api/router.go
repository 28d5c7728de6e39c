package api

import (
	"CardDetServer/logger"
	"CardDetServer/session"
	"CardDetServer/store"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	sessions *session.Manager
	store    *store.Store
}

// NewRouter 注册 REST 与 websocket 路由
func NewRouter(m *session.Manager, st *store.Store) *gin.Engine {
	s := &Server{sessions: m, store: st}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/sessions", s.listSessions)
	r.POST("/api/sessions/alloc", s.allocSession)
	r.GET("/api/sessions/:sessionID", s.checkSession)
	r.POST("/api/sessions/:sessionID/release", s.releaseSession)
	r.GET("/api/sessions/:sessionID/cards", s.sessionCards)
	r.GET("/api/sessions/:sessionID/history", s.sessionHistory)
	r.GET("/ws/:sessionID", s.serveWS)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Log().Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *Server) lookup(c *gin.Context) (*session.Session, bool) {
	sess, err := s.sessions.Get(c.Param("sessionID"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return nil, false
	}
	return sess, true
}

func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.sessions.List()})
}

func (s *Server) allocSession(c *gin.Context) {
	sess, err := s.sessions.Alloc()
	if errors.Is(err, session.ErrNoCapacity) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "All sessions are busy"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionID": sess.ID,
		"wsURL":     fmt.Sprintf("ws://%s/ws/%s", c.Request.Host, sess.ID),
		"timeoutMs": s.sessions.IdleTimeout().Milliseconds(),
	})
}

func (s *Server) checkSession(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sess.Info()})
}

func (s *Server) releaseSession(c *gin.Context) {
	if err := s.sessions.Release(c.Param("sessionID")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": "Session released"})
}

func (s *Server) sessionCards(c *gin.Context) {
	sess, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sess.Cards()})
}

type historyItem struct {
	Fingerprint string    `json:"fingerprint"`
	Confidence  float64   `json:"confidence"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

// sessionHistory lists stored confirmations and the confidence snapshot saved
// at release, so it also answers for released sessions.
func (s *Server) sessionHistory(c *gin.Context) {
	records, err := s.store.ListCards(c.Request.Context(), c.Param("sessionID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	snap, err := s.store.Snapshot(c.Request.Context(), c.Param("sessionID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	items := make([]historyItem, 0, len(records))
	for _, r := range records {
		items = append(items, historyItem{Fingerprint: r.Fingerprint, Confidence: r.Confidence, ConfirmedAt: r.ConfirmedAt})
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "snapshot": snap})
}
