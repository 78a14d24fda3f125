package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"realty/server/config"
	"realty/server/internal/listing"
	"realty/server/internal/models"
	"realty/server/internal/query"
	"realty/server/internal/remote"
	"realty/server/internal/view"
)

// Listings is the remote side of the API, implemented by listing.Loader
type Listings interface {
	Reload(ctx context.Context) ([]models.Property, error)
	Refetch(ctx context.Context) error
	GetProperty(ctx context.Context, id string) (models.Property, error)
	CreateProperty(ctx context.Context, record models.RawProperty) (models.Property, error)
	SetPublished(ctx context.Context, id string, published bool) error
	DeleteProperty(ctx context.Context, id string) error
	GeneratePropertyNumber(ctx context.Context, roomType string) (string, error)
}

// Signals revalidates cached queries, implemented by query.Client
type Signals interface {
	Focus(ctx context.Context) int
	Reconnect(ctx context.Context) int
}

type Handler struct {
	listings Listings
	signals  Signals
	sessions *SessionManager
	logger   *logrus.Logger
}

type ListQuery struct {
	Building string `form:"building"`
	Room     string `form:"room"`
	Search   string `form:"q"`
	Page     string `form:"page"`
	Live     bool   `form:"live"`
}

type RefreshQuery struct {
	Background bool `form:"background"`
}

type NumberRequest struct {
	Type string `json:"type" binding:"required"`
}

func NewHandler(listings Listings, signals Signals, sessions *SessionManager, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	return &Handler{
		listings: listings,
		signals:  signals,
		sessions: sessions,
		logger:   logger,
	}
}

// session resolves the caller's view and echoes its id back
func (h *Handler) session(c *gin.Context) *view.Engine {
	id, engine := h.sessions.Acquire(c.GetHeader(SessionHeader))
	c.Header(SessionHeader, id)
	return engine
}

// ListProperties applies the requested filters to the caller's view and returns one page.
// Missing filters mean "all"; a missing page keeps the current one. With live=true the
// search term is debounced, so keystroke requests get the page of the previous term.
func (h *Handler) ListProperties(c *gin.Context) {
	var q ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	page := 0
	if q.Page != "" {
		n, err := strconv.Atoi(q.Page)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page number"})
			return
		}
		page = n
	}

	engine := h.session(c)
	filters := models.FilterTuple{
		Building: orAll(q.Building),
		Room:     orAll(q.Room),
		Search:   q.Search,
	}
	if q.Live {
		filters.Search = engine.Filters().Search
	}
	engine.SetFilters(filters)
	if q.Live {
		engine.SetSearchDebounced(q.Search)
	}
	if page != 0 && !engine.GoToPage(page) {
		h.logger.WithField("page", page).Debug("Serving current page for out of range request")
	}

	c.JSON(http.StatusOK, engine.Page())
}

// GetFilterCounts returns per-tag counts for the caller's current filters
func (h *Handler) GetFilterCounts(c *gin.Context) {
	engine := h.session(c)
	c.JSON(http.StatusOK, engine.FilterCounts())
}

func (h *Handler) GetProperty(c *gin.Context) {
	id := c.Param("id")
	property, err := h.listings.GetProperty(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Property not found"})
			return
		}
		h.logger.WithError(err).WithField("id", id).Error("Failed to get property")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, property)
}

// CreateProperty inserts a record. It shows up in views with the next load.
func (h *Handler) CreateProperty(c *gin.Context) {
	var record models.RawProperty
	if err := c.ShouldBindJSON(&record); err != nil || len(record) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	property, err := h.listings.CreateProperty(c.Request.Context(), record)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create property")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, property)
}

// TogglePublished flips the published flag in the caller's view first and rolls it back
// when the remote store refuses the change
func (h *Handler) TogglePublished(c *gin.Context) {
	id := c.Param("id")
	engine := h.session(c)

	current, ok := engine.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Property not found"})
		return
	}
	published := !current.IsPublished

	err := engine.Apply(c.Request.Context(), view.TogglePublished(id), func(ctx context.Context) error {
		return h.listings.SetPublished(ctx, id, published)
	})
	if err != nil {
		h.writeMutationError(c, id, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           id,
		"is_published": published,
	})
}

func (h *Handler) DeleteProperty(c *gin.Context) {
	id := c.Param("id")
	engine := h.session(c)

	err := engine.Apply(c.Request.Context(), view.Remove(id), func(ctx context.Context) error {
		return h.listings.DeleteProperty(ctx, id)
	})
	if err != nil {
		h.writeMutationError(c, id, err)
		return
	}
	// other sessions keep the record until the next load but drop its rendered card
	h.sessions.EvictCard(id)

	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (h *Handler) writeMutationError(c *gin.Context, id string, err error) {
	switch {
	case errors.Is(err, view.ErrNotFound), errors.Is(err, remote.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Property not found"})
	default:
		h.logger.WithError(err).WithField("id", id).Error("Property change rejected by remote store")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func (h *Handler) GeneratePropertyNumber(c *gin.Context) {
	var req NumberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if !config.IsKnownRoomType(req.Type) {
		h.logger.WithField("type", req.Type).Warn("Generating number for unknown room type")
	}

	number, err := h.listings.GeneratePropertyNumber(c.Request.Context(), req.Type)
	if err != nil {
		if errors.Is(err, listing.ErrDuplicateNumber) {
			c.JSON(http.StatusConflict, gin.H{"error": "Generated number is already taken, please retry"})
			return
		}
		h.logger.WithError(err).Error("Failed to generate property number")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"type":   req.Type,
		"number": number,
	})
}

// Refresh forces a load. A remote failure still publishes the fallback collection,
// so the answer is 200 with the error attached. With background=true the cached
// collection is revalidated asynchronously and the answer is 202.
func (h *Handler) Refresh(c *gin.Context) {
	var q RefreshQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	if q.Background {
		err := h.listings.Refetch(c.Request.Context())
		if err == nil {
			c.JSON(http.StatusAccepted, gin.H{"refetching": true})
			return
		}
		if !errors.Is(err, query.ErrNoFetcher) {
			h.logger.WithError(err).Error("Failed to start background refresh")
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		h.logger.Debug("Nothing loaded yet, refreshing in the foreground")
	}

	properties, err := h.listings.Reload(c.Request.Context())
	response := gin.H{"count": len(properties)}
	if err != nil {
		response["error"] = err.Error()
	}
	c.JSON(http.StatusOK, response)
}

func (h *Handler) Focus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"refetched": h.signals.Focus(c.Request.Context())})
}

func (h *Handler) Reconnect(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"refetched": h.signals.Reconnect(c.Request.Context())})
}

func orAll(value string) string {
	if value == "" {
		return config.FilterAll
	}
	return value
}
