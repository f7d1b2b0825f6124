package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/marllet/fleettrack/internal/api/geocoder"
	"github.com/marllet/fleettrack/internal/eta"
	"github.com/marllet/fleettrack/internal/models"
	"github.com/marllet/fleettrack/internal/repository"
	"github.com/marllet/fleettrack/internal/service"
	"github.com/marllet/fleettrack/internal/token"
	"github.com/marllet/fleettrack/pkg/ws"
)

// Handler HTTP handlers for the tracking API
type Handler struct {
	logger      *zap.Logger
	missionRepo *repository.MissionRepository
	tracking    *service.TrackingService
	estimator   *eta.Estimator
	guard       *token.Guard
	geocoder    *geocoder.Client
	wsHub       *ws.Hub
	upgrader    websocket.Upgrader

	shareTTL         time.Duration
	shareMaxAccesses int
	publicBaseURL    string
}

// NewHandler creates the handler set. missionRepo and geocoderClient
// may be nil when running without a database or without reverse
// geocoding.
func NewHandler(
	logger *zap.Logger,
	missionRepo *repository.MissionRepository,
	tracking *service.TrackingService,
	estimator *eta.Estimator,
	guard *token.Guard,
	geocoderClient *geocoder.Client,
	wsHub *ws.Hub,
	shareTTL time.Duration,
	shareMaxAccesses int,
	publicBaseURL string,
) *Handler {
	return &Handler{
		logger:      logger,
		missionRepo: missionRepo,
		tracking:    tracking,
		estimator:   estimator,
		guard:       guard,
		geocoder:    geocoderClient,
		wsHub:       wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		shareTTL:         shareTTL,
		shareMaxAccesses: shareMaxAccesses,
		publicBaseURL:    publicBaseURL,
	}
}

// RegisterRoutes registers all routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		// missions
		api.POST("/missions", h.CreateMission)
		api.GET("/missions", h.ListMissions)
		api.GET("/missions/:id", h.GetMission)
		api.PUT("/missions/:id/destination", h.SetDestination)
		api.POST("/missions/:id/start", h.StartMission)
		api.POST("/missions/:id/complete", h.CompleteMission)
		api.POST("/missions/:id/cancel", h.CancelMission)

		// device ingest
		api.POST("/missions/:id/locations", h.IngestLocations)

		// owner dashboard channel
		api.GET("/missions/:id/track", h.GetTrack)
		api.GET("/missions/:id/latest", h.GetLatest)
		api.GET("/missions/:id/eta", h.GetEstimate)

		// share links
		api.POST("/missions/:id/share", h.IssueShareLink)
		api.DELETE("/missions/:id/share", h.RevokeShareLink)

		// public tracking endpoint (token gated)
		api.GET("/public/tracking/:token", h.GetPublicTracking)
	}

	// WebSocket channels
	r.GET("/ws/missions/:id", h.HandleOwnerWebSocket)
	r.GET("/ws/public/:token", h.HandlePublicWebSocket)

	r.GET("/health", h.HealthCheck)
}

// CreateMission creates a mission record
func (h *Handler) CreateMission(c *gin.Context) {
	var req struct {
		Reference       string   `json:"reference" binding:"required"`
		PickupAddress   string   `json:"pickup_address"`
		DeliveryAddress string   `json:"delivery_address"`
		DeliveryLat     *float64 `json:"delivery_lat"`
		DeliveryLng     *float64 `json:"delivery_lng"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	m := &models.Mission{
		ID:              uuid.NewString(),
		Reference:       req.Reference,
		Status:          models.MissionPending,
		PickupAddress:   req.PickupAddress,
		DeliveryAddress: req.DeliveryAddress,
		DeliveryLat:     req.DeliveryLat,
		DeliveryLng:     req.DeliveryLng,
	}

	if h.missionRepo != nil {
		if err := h.missionRepo.Create(c.Request.Context(), m); err != nil {
			h.logger.Error("Failed to create mission", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create mission"})
			return
		}
	}

	c.JSON(http.StatusCreated, gin.H{"data": m})
}

// ListMissions returns missions filtered by status, newest first
func (h *Handler) ListMissions(c *gin.Context) {
	if h.missionRepo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Mission store not configured"})
		return
	}

	status := c.DefaultQuery("status", models.MissionInProgress)
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	missions, err := h.missionRepo.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		h.logger.Error("Failed to list missions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list missions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": missions, "count": len(missions)})
}

// GetMission returns mission details
func (h *Handler) GetMission(c *gin.Context) {
	m, ok := h.loadMission(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": m})
}

// SetDestination updates the delivery point of a mission
func (h *Handler) SetDestination(c *gin.Context) {
	if h.missionRepo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Mission store not configured"})
		return
	}

	var req struct {
		DeliveryAddress string   `json:"delivery_address"`
		DeliveryLat     *float64 `json:"delivery_lat" binding:"required"`
		DeliveryLng     *float64 `json:"delivery_lng" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	missionID := c.Param("id")
	err := h.missionRepo.SetDestination(c.Request.Context(), missionID, req.DeliveryAddress, *req.DeliveryLat, *req.DeliveryLng)
	if errors.Is(err, repository.ErrMissionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Mission not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to set destination", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update mission"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// StartMission marks a mission in progress
func (h *Handler) StartMission(c *gin.Context) {
	h.transition(c, h.tracking.StartMission)
}

// CompleteMission marks a mission completed and freezes its track
func (h *Handler) CompleteMission(c *gin.Context) {
	h.transition(c, h.tracking.CompleteMission)
}

// CancelMission marks a mission cancelled and freezes its track
func (h *Handler) CancelMission(c *gin.Context) {
	h.transition(c, h.tracking.CancelMission)
}

func (h *Handler) transition(c *gin.Context, fn func(ctx context.Context, missionID string) error) {
	missionID := c.Param("id")
	if err := fn(c.Request.Context(), missionID); err != nil {
		if errors.Is(err, repository.ErrMissionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Mission not found"})
			return
		}
		if errors.Is(err, service.ErrInvalidTransition) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to transition mission", zap.String("mission_id", missionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update mission"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// IngestLocations accepts one or many samples from the device
func (h *Handler) IngestLocations(c *gin.Context) {
	missionID := c.Param("id")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	var samples []models.PositionSample
	if err := json.Unmarshal(body, &samples); err != nil {
		// tolerate a single object body
		var single models.PositionSample
		if err := json.Unmarshal(body, &single); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		samples = []models.PositionSample{single}
	}

	for i := range samples {
		samples[i].MissionID = missionID
	}

	accepted, err := h.tracking.IngestBatch(c.Request.Context(), samples)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received": len(samples),
		"accepted": accepted,
	})
}

// GetTrack returns the mission's full ordered track
func (h *Handler) GetTrack(c *gin.Context) {
	snap := h.tracking.Snapshot(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"data": snap})
}

// GetLatest returns the mission's newest position
func (h *Handler) GetLatest(c *gin.Context) {
	snap := h.tracking.Snapshot(c.Param("id"))
	if snap.Latest == nil {
		c.JSON(http.StatusOK, gin.H{"data": nil, "status": "not_started"})
		return
	}

	resp := gin.H{"data": snap.Latest}
	if h.geocoder != nil {
		if addr, err := h.geocoder.ReverseGeocode(c.Request.Context(), snap.Latest.Latitude, snap.Latest.Longitude); err == nil {
			resp["address"] = addr
		}
	}
	c.JSON(http.StatusOK, resp)
}

// GetEstimate returns remaining distance and ETA for a mission
func (h *Handler) GetEstimate(c *gin.Context) {
	m, ok := h.loadMission(c)
	if !ok {
		return
	}

	est, err := h.estimator.EstimateForMission(c.Request.Context(), m)
	if errors.Is(err, eta.ErrNoPosition) {
		c.JSON(http.StatusOK, gin.H{"data": nil, "status": "not_started"})
		return
	}
	if errors.Is(err, eta.ErrMissionEnded) {
		c.JSON(http.StatusOK, gin.H{"data": nil, "status": "ended"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": est, "eta": est.ETA()})
}

// IssueShareLink issues (or returns the existing) public tracking link
func (h *Handler) IssueShareLink(c *gin.Context) {
	missionID := c.Param("id")

	var req struct {
		TTLMinutes  int `json:"ttl_minutes"`
		MaxAccesses int `json:"max_accesses"`
	}
	_ = c.ShouldBindJSON(&req) // body optional, defaults apply

	ttl := h.shareTTL
	if req.TTLMinutes > 0 {
		ttl = time.Duration(req.TTLMinutes) * time.Minute
	}
	maxAccesses := h.shareMaxAccesses
	if req.MaxAccesses != 0 {
		maxAccesses = req.MaxAccesses
	}

	tok, err := h.guard.Issue(missionID, ttl, maxAccesses)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"token":        tok.Token,
			"url":          h.publicBaseURL + "/tracking/" + tok.Token,
			"expires_at":   tok.ExpiresAt,
			"max_accesses": tok.MaxAccesses,
		},
	})
}

// RevokeShareLink deactivates every share link of a mission
func (h *Handler) RevokeShareLink(c *gin.Context) {
	revoked := h.guard.Revoke(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"revoked": revoked})
}

// GetPublicTracking is the token-gated public endpoint: one granted
// access returns the track snapshot, live position and ETA.
func (h *Handler) GetPublicTracking(c *gin.Context) {
	missionID, err := h.guard.Authorize(c.Param("token"), time.Now())
	if err != nil {
		h.denyPublic(c, err)
		return
	}

	snap := h.tracking.Snapshot(missionID)
	resp := gin.H{
		"mission_id": missionID,
		"track":      snap.History,
		"latest":     snap.Latest,
	}

	if h.geocoder != nil && snap.Latest != nil {
		if addr, err := h.geocoder.ReverseGeocode(c.Request.Context(), snap.Latest.Latitude, snap.Latest.Longitude); err == nil {
			resp["address"] = addr
		}
	}

	if h.missionRepo != nil {
		if m, err := h.missionRepo.GetByID(c.Request.Context(), missionID); err == nil {
			resp["mission"] = gin.H{
				"reference":        m.Reference,
				"status":           m.Status,
				"pickup_address":   m.PickupAddress,
				"delivery_address": m.DeliveryAddress,
				"delivery_lat":     m.DeliveryLat,
				"delivery_lng":     m.DeliveryLng,
			}
			if m.DeliveryLat != nil && m.DeliveryLng != nil && snap.Latest != nil {
				if est, err := h.estimator.EstimateForMission(c.Request.Context(), m); err == nil {
					resp["estimate"] = est
					resp["eta"] = est.ETA()
				}
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// denyPublic maps a denial reason to a user-facing-safe response. The
// reasons are deliberately distinct, matching the product behavior.
func (h *Handler) denyPublic(c *gin.Context, err error) {
	switch {
	case errors.Is(err, token.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, token.ErrInactive), errors.Is(err, token.ErrExpired):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, token.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authorization failed"})
	}
}

// HandleOwnerWebSocket attaches an authenticated dashboard client
func (h *Handler) HandleOwnerWebSocket(c *gin.Context) {
	h.attachWebSocket(c, c.Param("id"))
}

// HandlePublicWebSocket attaches an anonymous observer; the token is
// authorized (and consumed) before the client joins the hub. A denial
// is delivered as an error frame over the upgraded connection, since a
// refused handshake is opaque to browser WebSocket clients.
func (h *Handler) HandlePublicWebSocket(c *gin.Context) {
	missionID, authErr := h.guard.Authorize(c.Param("token"), time.Now())
	if authErr == nil {
		h.attachWebSocket(c, missionID)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.denyPublic(c, authErr)
		return
	}
	defer conn.Close()

	payload, err := json.Marshal(ws.Message{Type: ws.MsgTypeError, Data: gin.H{"error": authErr.Error()}})
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, payload)
}

func (h *Handler) attachWebSocket(c *gin.Context, missionID string) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn, missionID)
	client.Register()

	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck service liveness
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.ClientCount(),
	})
}

// loadMission fetches the mission or writes the error response.
func (h *Handler) loadMission(c *gin.Context) (*models.Mission, bool) {
	if h.missionRepo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Mission store not configured"})
		return nil, false
	}

	m, err := h.missionRepo.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrMissionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Mission not found"})
		return nil, false
	}
	if err != nil {
		h.logger.Error("Failed to load mission", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load mission"})
		return nil, false
	}
	return m, true
}
