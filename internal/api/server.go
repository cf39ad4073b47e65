// Package api serves read-only JSON views of a running session.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"trendbot-go/internal/paper"
	"trendbot-go/internal/session"
)

// Source is what the server polls. *session.Controller satisfies it.
type Source interface {
	Status() session.Status
	LedgerSnapshot() paper.Snapshot
	Trades() []paper.Trade
}

// Server wires the HTTP routes around a Source.
type Server struct {
	Router  *gin.Engine
	src     Source
	log     zerolog.Logger
	started time.Time
}

// NewServer builds the router. rps <= 0 disables rate limiting.
func NewServer(src Source, log zerolog.Logger, rps float64) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	if rps > 0 {
		r.Use(RateLimitMiddleware(rate.NewLimiter(rate.Limit(rps), int(rps)*2+1)))
	}

	s := &Server{Router: r, src: src, log: log, started: time.Now()}
	r.GET("/healthz", s.healthz)
	r.GET("/status", s.status)
	r.GET("/ledger", s.ledger)
	r.GET("/trades", s.trades)
	return s
}

func (s *Server) healthz(c *gin.Context) {
	st := s.src.Status()
	code := http.StatusOK
	if st.State != session.Streaming {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"state":  st.State,
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.src.Status())
}

func (s *Server) ledger(c *gin.Context) {
	snap := s.src.LedgerSnapshot()
	snap.Trades = nil
	c.JSON(http.StatusOK, snap)
}

// trades honours ?limit=N, returning the newest N in chronological order.
func (s *Server) trades(c *gin.Context) {
	trades := s.src.Trades()
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		if n < len(trades) {
			trades = trades[len(trades)-n:]
		}
	}
	if trades == nil {
		trades = []paper.Trade{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(trades), "trades": trades})
}

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("status api listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RequestIDMiddleware tags every request with an X-Request-ID.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// RequestLogger logs one debug line per request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", c.GetString("request_id")).
			Msg("api request")
	}
}

// RateLimitMiddleware rejects requests beyond the shared limiter's budget.
func RateLimitMiddleware(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
