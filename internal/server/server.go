// Package server exposes the answer-or-abstain pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/danielpatrickdp/riskgate/internal/pipeline"
	"github.com/danielpatrickdp/riskgate/internal/signals"
)

// #region service
// Service is the pipeline surface the handlers need. *pipeline.Pipeline satisfies it.
type Service interface {
	Run(ctx context.Context, query string) (pipeline.Result, error)
	Score(ctx context.Context, answer string, evidence, alternates []string) (pipeline.Scored, error)
}

// #endregion service

// #region wire-types
// QARequest is the body of POST /qa.
type QARequest struct {
	Query string `json:"query" binding:"required"`
}

// ScoreRequest is the body of POST /score.
type ScoreRequest struct {
	Answer     string   `json:"answer" binding:"required"`
	Evidence   []string `json:"evidence"`
	Alternates []string `json:"alternates"`
}

// Source is one cited passage.
type Source struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// Risk carries the probability and the signature behind a decision.
type Risk struct {
	PDisagree   float64 `json:"p_disagree"`
	Dispersion  float64 `json:"dispersion"`
	Overlap     float64 `json:"overlap"`
	Uncertainty float64 `json:"uncertainty"`
}

// QAResponse is the body returned by POST /qa.
type QAResponse struct {
	RequestID    string   `json:"request_id"`
	Answer       string   `json:"answer"`
	Sources      []Source `json:"sources"`
	Risk         Risk     `json:"risk"`
	Decision     string   `json:"decision"`
	NeutralPrior bool     `json:"neutral_prior"`
}

// ScoreResponse is the body returned by POST /score.
type ScoreResponse struct {
	Risk         Risk     `json:"risk"`
	Decision     string   `json:"decision"`
	NeutralPrior bool     `json:"neutral_prior"`
	Reasons      []string `json:"reasons,omitempty"`
}

// #endregion wire-types

// #region server
// Server routes HTTP requests to a Service.
type Server struct {
	svc    Service
	logger *slog.Logger
	engine *gin.Engine
}

// New builds the router. logger nil uses slog.Default().
func New(svc Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.GET("/healthz", s.healthz)
	r.POST("/qa", s.qa)
	r.POST("/score", s.score)
	s.engine = r
	return s
}

// Handler returns the http.Handler for the routes.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// #endregion server

// #region handlers
func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) qa(c *gin.Context) {
	var req QARequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	res, err := s.svc.Run(c.Request.Context(), req.Query)
	if err != nil {
		s.fail(c, err)
		return
	}

	sources := make([]Source, len(res.Sources))
	for i, ev := range res.Sources {
		sources[i] = Source{Source: ev.SourceID, Text: ev.Text}
	}
	c.JSON(http.StatusOK, QAResponse{
		RequestID:    res.RequestID,
		Answer:       res.Answer,
		Sources:      sources,
		Risk:         riskOf(res.Scored),
		Decision:     string(res.Record.Verdict),
		NeutralPrior: res.Record.NeutralPrior,
	})
}

func (s *Server) score(c *gin.Context) {
	var req ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Answer) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "answer is required"})
		return
	}
	alternates := req.Alternates
	if len(alternates) == 0 {
		alternates = []string{req.Answer}
	}

	scored, err := s.svc.Score(c.Request.Context(), req.Answer, req.Evidence, alternates)
	if err != nil {
		s.fail(c, err)
		return
	}

	reasons := make([]string, 0, len(scored.Gate.VetoSignals))
	for _, v := range scored.Gate.VetoSignals {
		reasons = append(reasons, v.Reason)
	}
	c.JSON(http.StatusOK, ScoreResponse{
		Risk:         riskOf(scored),
		Decision:     string(scored.Record.Verdict),
		NeutralPrior: scored.Record.NeutralPrior,
		Reasons:      reasons,
	})
}

func riskOf(s pipeline.Scored) Risk {
	sig := s.Record.Signature
	return Risk{
		PDisagree:   s.Record.Probability,
		Dispersion:  sig.Dispersion,
		Overlap:     sig.Overlap,
		Uncertainty: sig.Uncertainty,
	}
}

// fail maps pipeline errors to status codes. Upstream failures are 502 and
// never carry a verdict.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pipeline.ErrGenerationFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "generation_failed"})
	case errors.Is(err, signals.ErrExternalDependency):
		c.JSON(http.StatusBadGateway, gin.H{"error": "dependency_failed"})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "timeout"})
	default:
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}

// #endregion handlers

// #region middleware
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds())
	}
}

// #endregion middleware
