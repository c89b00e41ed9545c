// Package frontdoor serves the Slack Events API endpoint and health routes.
package frontdoor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/zulandar/aichorus/internal/registry"
	"github.com/zulandar/aichorus/internal/slackio"
	"go.uber.org/zap"
)

const (
	// maxBodyBytes caps an Events API request body.
	maxBodyBytes = 1 << 20
	// shutdownTimeout bounds graceful shutdown.
	shutdownTimeout = 10 * time.Second
	// retryHeader is set by Slack on redelivered events.
	retryHeader = "X-Slack-Retry-Num"
)

// StatusSource reports browser connection state.
type StatusSource interface {
	Status() []registry.Status
}

// Opts holds configuration for the Front Door server.
type Opts struct {
	Addr          string
	SigningSecret string
	Handler       slackio.MessageHandler
	Status        StatusSource
	Logger        *zap.Logger
	Out           io.Writer
}

// Server is the HTTP Events API receiver.
type Server struct {
	addr    string
	secret  string
	handler slackio.MessageHandler
	status  StatusSource
	logger  *zap.Logger
	out     io.Writer
	router  *gin.Engine
}

// New validates opts and builds the router.
func New(opts Opts) (*Server, error) {
	if opts.SigningSecret == "" {
		return nil, fmt.Errorf("frontdoor: signing secret is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("frontdoor: handler is required")
	}
	if opts.Addr == "" {
		opts.Addr = ":8000"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		addr:    opts.Addr,
		secret:  opts.SigningSecret,
		handler: opts.Handler,
		status:  opts.Status,
		logger:  opts.Logger.Named("frontdoor"),
		out:     opts.Out,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, s)
	s.router = router
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if s.out != nil {
		fmt.Fprintf(s.out, "Listening for Slack events on %s/slack/events\n", s.addr)
	}
	s.logger.Info("listening", zap.String("addr", s.addr))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("frontdoor: %w", err)
	}
	return nil
}

func registerRoutes(router *gin.Engine, s *Server) {
	router.GET("/", handleRoot())
	router.GET("/status", handleStatus(s.status))
	router.POST("/slack/events", s.handleEvents)
}

func handleRoot() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "AI Chorus is running."})
	}
}

func handleStatus(status StatusSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		services := []registry.Status{}
		if status != nil {
			services = status.Status()
		}
		connected := 0
		for _, st := range services {
			if st.Connected {
				connected++
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"services":  services,
			"connected": connected,
			"total":     len(services),
		})
	}
}

// handleEvents verifies the request signature, answers URL verification
// and hands message callbacks to the handler after acknowledging them.
func (s *Server) handleEvents(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	sv, err := slackapi.NewSecretsVerifier(c.Request.Header, s.secret)
	if err != nil {
		s.logger.Warn("missing or stale signature headers", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	if _, err := sv.Write(body); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verify"})
		return
	}
	if err := sv.Ensure(); err != nil {
		s.logger.Warn("signature mismatch", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		s.logger.Warn("unparseable event", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid challenge"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"challenge": challenge.Challenge})
		return
	case slackevents.CallbackEvent:
		if retry := c.GetHeader(retryHeader); retry != "" {
			s.logger.Info("ignoring redelivered event", zap.String("retry", retry))
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		slackio.DispatchEvent(event, s.handler)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ignored"})
}
