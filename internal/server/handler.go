package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/casaflow/utility-recon/internal/batch"
	"github.com/casaflow/utility-recon/internal/domain/entity"
	"github.com/casaflow/utility-recon/internal/repository"
)

// Handler implements the admin API: start a reconciliation session and
// inspect its results. Session runs are asynchronous; POST returns as soon
// as the session record exists.
type Handler struct {
	orchestrator *batch.Orchestrator
	properties   *repository.PropertyRepository
	sessions     *repository.SessionRepository
	results      *repository.ResultRepository
	invoices     *repository.InvoiceRepository
	runTimeout   time.Duration
	logger       *zap.Logger
}

// NewHandler creates the API handler
func NewHandler(
	orchestrator *batch.Orchestrator,
	properties *repository.PropertyRepository,
	sessions *repository.SessionRepository,
	results *repository.ResultRepository,
	invoices *repository.InvoiceRepository,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		properties:   properties,
		sessions:     sessions,
		results:      results,
		invoices:     invoices,
		runTimeout:   2 * time.Hour,
		logger:       logger,
	}
}

// Register mounts the API routes onto the router
func (h *Handler) Register(router *gin.Engine) {
	router.GET("/health", h.health)

	api := router.Group("/api/v1")
	{
		api.POST("/sessions", h.startSession)
		api.GET("/sessions", h.listSessions)
		api.GET("/sessions/:id", h.getSession)
		api.GET("/sessions/:id/results", h.listResults)
		api.GET("/results/:id/invoices", h.listInvoices)
		api.GET("/properties", h.listProperties)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "utility-recon",
		"time":    time.Now().Format(time.RFC3339),
	})
}

type startSessionRequest struct {
	SessionName   string   `json:"session_name"`
	StartDate     string   `json:"start_date" binding:"required"`
	EndDate       string   `json:"end_date" binding:"required"`
	PropertyNames []string `json:"property_names"`
}

func (h *Handler) startSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	window, err := parseWindow(req.StartDate, req.EndDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	properties, err := h.resolveProperties(req.PropertyNames)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(properties) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no properties to process"})
		return
	}

	session, slots, err := h.orchestrator.Prepare(req.SessionName, window, properties)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Execute mutates session while it runs, so the response serializes a
	// copy taken before the goroutine starts.
	accepted := *session

	// The run outlives the HTTP request on purpose; its lifetime is bounded
	// by the run timeout, not by the client connection.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.runTimeout)
		defer cancel()

		if _, err := h.orchestrator.Execute(ctx, session, slots, properties); err != nil {
			h.logger.Error("Session run failed",
				zap.String("session_id", session.ID),
				zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"session": accepted})
}

func (h *Handler) listSessions(c *gin.Context) {
	sessions, err := h.sessions.List(50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) getSession(c *gin.Context) {
	session, err := h.sessions.GetByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *Handler) listResults(c *gin.Context) {
	session, err := h.sessions.GetByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	results, err := h.results.ListBySession(session.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "results": results})
}

func (h *Handler) listInvoices(c *gin.Context) {
	invoices, err := h.invoices.ListByResult(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

func (h *Handler) listProperties(c *gin.Context) {
	properties, err := h.properties.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"properties": properties})
}

// resolveProperties loads the requested subset, or every known property
// when no names were given.
func (h *Handler) resolveProperties(names []string) ([]*entity.Property, error) {
	if len(names) == 0 {
		return h.properties.List()
	}

	properties := make([]*entity.Property, 0, len(names))
	for _, name := range names {
		property, err := h.properties.GetByName(name)
		if err != nil {
			return nil, err
		}
		if property == nil {
			return nil, fmt.Errorf("unknown property: %s", name)
		}
		properties = append(properties, property)
	}
	return properties, nil
}

func parseWindow(start, end string) (entity.Window, error) {
	const layout = "2006-01-02"

	startDate, err := time.Parse(layout, start)
	if err != nil {
		return entity.Window{}, fmt.Errorf("invalid start_date: %w", err)
	}
	endDate, err := time.Parse(layout, end)
	if err != nil {
		return entity.Window{}, fmt.Errorf("invalid end_date: %w", err)
	}

	return entity.NewWindow(startDate, endDate)
}
