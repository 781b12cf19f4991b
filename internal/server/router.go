package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/merigil/mythoria-sub000/internal/auth"
	"github.com/merigil/mythoria-sub000/internal/geofence"
	"github.com/merigil/mythoria-sub000/internal/leaderboard"
	"github.com/merigil/mythoria-sub000/internal/ledger"
	"github.com/merigil/mythoria-sub000/internal/submissions"
	"go.uber.org/zap"
)

const (
	signatureHeader = "X-Signature"

	defaultNearbyRadiusMeters = 1000.0
	maxNearbyRadiusMeters     = 50000.0
	defaultLeaderboardLimit   = 10
	maxLeaderboardLimit       = 100
)

var (
	errMissingTargets     = errors.New("target finder dependency required")
	errMissingSubmissions = errors.New("submission service dependency required")
	errMissingLeaderboard = errors.New("leaderboard dependency required")
	errMissingRealtime    = errors.New("realtime dispatcher dependency required")
	errMissingReconciler  = errors.New("reconciler dependency required when admin validator is set")
)

// TargetFinder serves the nearby-targets query.
type TargetFinder interface {
	FindTargetsNear(ctx context.Context, origin geofence.Coordinate, radiusMeters float64) ([]ledger.NearbyTarget, error)
}

// SubmissionService runs the submission flow.
type SubmissionService interface {
	Submit(ctx context.Context, claim submissions.Claim) (submissions.Result, error)
}

// Ranking serves Top-K reads.
type Ranking interface {
	TopK(ctx context.Context, k int) ([]leaderboard.Standing, error)
}

// PlayerDirectory resolves display names for leaderboard rows.
type PlayerDirectory interface {
	DisplayNames(ctx context.Context, playerIDs []string) map[string]string
}

// AdminValidator authorizes operator requests.
type AdminValidator interface {
	ValidateRequest(r *http.Request) (auth.AdminClaims, error)
}

// Reconciler rebuilds the leaderboard from the ledger.
type Reconciler interface {
	Run(ctx context.Context) (int, error)
}

// Dependencies wires the HTTP surface. AdminValidator and Reconciler are optional;
// the admin routes exist only when both are set.
type Dependencies struct {
	Targets        TargetFinder
	Submissions    SubmissionService
	Leaderboard    Ranking
	Players        PlayerDirectory
	Realtime       *RealtimeDispatcher
	AdminValidator AdminValidator
	Reconciler     Reconciler
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Targets == nil {
		return nil, errMissingTargets
	}
	if deps.Submissions == nil {
		return nil, errMissingSubmissions
	}
	if deps.Leaderboard == nil {
		return nil, errMissingLeaderboard
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}
	if deps.AdminValidator != nil && deps.Reconciler == nil {
		return nil, errMissingReconciler
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(origins))

	handler := &httpHandler{
		targets:     deps.Targets,
		submissions: deps.Submissions,
		leaderboard: deps.Leaderboard,
		players:     deps.Players,
		realtime:    deps.Realtime,
		admin:       deps.AdminValidator,
		reconciler:  deps.Reconciler,
		upgrader:    newUpgrader(origins),
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/targets/nearby", handler.handleNearbyTargets)
	router.POST("/submissions", handler.handleSubmission)
	router.GET("/leaderboard/top", handler.handleLeaderboardTop)
	router.GET("/ws/leaderboard", handler.handleLeaderboardSocket)

	if deps.AdminValidator != nil {
		admin := router.Group("/admin")
		admin.Use(handler.authorizeAdmin)
		admin.POST("/reconcile", handler.handleReconcile)
	}

	return router, nil
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", signatureHeader},
		MaxAge:       12 * time.Hour,
	}
	if slices.Contains(origins, "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

type httpHandler struct {
	targets     TargetFinder
	submissions SubmissionService
	leaderboard Ranking
	players     PlayerDirectory
	realtime    *RealtimeDispatcher
	admin       AdminValidator
	reconciler  Reconciler
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": code, "message": message})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type nearbyTargetPayload struct {
	ID             string              `json:"id"`
	Title          string              `json:"title"`
	DistanceMeters float64             `json:"distanceMeters"`
	Config         targetConfigPayload `json:"config"`
}

type targetConfigPayload struct {
	Latitude               float64         `json:"lat"`
	Longitude              float64         `json:"lon"`
	ActivationRadiusMeters float64         `json:"activationRadiusMeters"`
	Difficulty             string          `json:"difficulty,omitempty"`
	Metadata               json.RawMessage `json:"metadata"`
}

func (h *httpHandler) handleNearbyTargets(c *gin.Context) {
	latitude, latErr := strconv.ParseFloat(strings.TrimSpace(c.Query("lat")), 64)
	longitude, lonErr := strconv.ParseFloat(strings.TrimSpace(c.Query("lon")), 64)
	origin := geofence.Coordinate{Latitude: latitude, Longitude: longitude}
	if latErr != nil || lonErr != nil || !origin.Valid() {
		respondError(c, http.StatusBadRequest, string(submissions.KindMalformedRequest), "lat and lon are required")
		return
	}

	radius := defaultNearbyRadiusMeters
	if raw := strings.TrimSpace(c.Query("radius")); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 {
			respondError(c, http.StatusBadRequest, string(submissions.KindMalformedRequest), "radius must be a non-negative number of meters")
			return
		}
		radius = min(parsed, maxNearbyRadiusMeters)
	}

	nearby, err := h.targets.FindTargetsNear(c.Request.Context(), origin, radius)
	if err != nil {
		h.logger.Error("nearby query failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, string(submissions.KindStorage), "internal error")
		return
	}

	response := make([]nearbyTargetPayload, 0, len(nearby))
	for _, item := range nearby {
		metadata := json.RawMessage(item.Target.Metadata)
		if !json.Valid(metadata) {
			metadata = json.RawMessage("{}")
		}
		response = append(response, nearbyTargetPayload{
			ID:             item.Target.TargetID,
			Title:          item.Target.Title,
			DistanceMeters: item.DistanceMeters,
			Config: targetConfigPayload{
				Latitude:               item.Target.Latitude,
				Longitude:              item.Target.Longitude,
				ActivationRadiusMeters: item.Target.ActivationRadiusMeters,
				Difficulty:             item.Target.Difficulty,
				Metadata:               metadata,
			},
		})
	}
	c.JSON(http.StatusOK, response)
}

type submissionRequestPayload struct {
	PlayerID        string           `json:"playerId"`
	TargetID        string           `json:"targetId"`
	Score           *int64           `json:"score"`
	TimestampMillis json.RawMessage  `json:"timestampMillis"`
	ClaimedLocation *locationPayload `json:"claimedLocation"`
}

type locationPayload struct {
	Latitude  *float64 `json:"lat"`
	Longitude *float64 `json:"lon"`
}

type submissionResponsePayload struct {
	Success bool  `json:"success"`
	Points  int64 `json:"points"`
}

func (h *httpHandler) handleSubmission(c *gin.Context) {
	var request submissionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondError(c, http.StatusBadRequest, string(submissions.KindMalformedRequest), "request body must be a JSON submission")
		return
	}
	if request.Score == nil {
		respondError(c, http.StatusBadRequest, string(submissions.KindMalformedRequest), "score is required")
		return
	}
	if request.ClaimedLocation == nil || request.ClaimedLocation.Latitude == nil || request.ClaimedLocation.Longitude == nil {
		respondError(c, http.StatusBadRequest, string(submissions.KindMalformedRequest), "claimedLocation must be a valid lat/lon")
		return
	}
	timestamp, ok := decodeTimestamp(request.TimestampMillis)
	if !ok {
		respondError(c, http.StatusBadRequest, string(submissions.KindMalformedRequest), "timestampMillis must be a decimal millisecond timestamp")
		return
	}

	result, err := h.submissions.Submit(c.Request.Context(), submissions.Claim{
		PlayerID: request.PlayerID,
		TargetID: request.TargetID,
		Score:    *request.Score,
		ClaimedLocation: geofence.Coordinate{
			Latitude:  *request.ClaimedLocation.Latitude,
			Longitude: *request.ClaimedLocation.Longitude,
		},
		TimestampMillis: timestamp,
		Signature:       c.GetHeader(signatureHeader),
	})
	if err != nil {
		h.respondSubmissionError(c, err)
		return
	}
	c.JSON(http.StatusOK, submissionResponsePayload{Success: true, Points: result.Points})
}

func (h *httpHandler) respondSubmissionError(c *gin.Context, err error) {
	var submissionErr *submissions.Error
	if !errors.As(err, &submissionErr) {
		h.logger.Error("submission failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, string(submissions.KindStorage), "internal error")
		return
	}
	switch submissionErr.Kind {
	case submissions.KindMalformedRequest:
		respondError(c, http.StatusBadRequest, string(submissionErr.Kind), submissionErr.Message)
	case submissions.KindUnknownTarget:
		respondError(c, http.StatusNotFound, string(submissionErr.Kind), submissionErr.Message)
	case submissions.KindSignatureInvalid:
		respondError(c, http.StatusForbidden, string(submissionErr.Kind), submissionErr.Message)
	case submissions.KindProximityInvalid:
		c.JSON(http.StatusForbidden, gin.H{
			"error":          string(submissionErr.Kind),
			"message":        submissionErr.Message,
			"distanceMeters": submissionErr.DistanceMeters,
		})
	default:
		respondError(c, http.StatusInternalServerError, string(submissionErr.Kind), submissionErr.Message)
	}
}

// decodeTimestamp accepts the millisecond timestamp as a JSON string or a bare
// JSON number and returns its literal text.
func decodeTimestamp(raw json.RawMessage) (string, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", false
	}
	if strings.HasPrefix(trimmed, `"`) {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return "", false
		}
		return text, true
	}
	return trimmed, true
}

type leaderboardRowPayload struct {
	PlayerDisplayName string `json:"playerDisplayName"`
	Score             int64  `json:"score"`
}

func (h *httpHandler) handleLeaderboardTop(c *gin.Context) {
	limit := defaultLeaderboardLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, string(submissions.KindMalformedRequest), "limit must be an integer")
			return
		}
		limit = max(1, min(parsed, maxLeaderboardLimit))
	}

	standings, err := h.leaderboard.TopK(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("leaderboard read failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, string(submissions.KindUnavailable), "internal error")
		return
	}

	names := map[string]string{}
	if h.players != nil && len(standings) > 0 {
		ids := make([]string, 0, len(standings))
		for _, standing := range standings {
			ids = append(ids, standing.PlayerID)
		}
		names = h.players.DisplayNames(c.Request.Context(), ids)
	}

	response := make([]leaderboardRowPayload, 0, len(standings))
	for _, standing := range standings {
		name, ok := names[standing.PlayerID]
		if !ok || name == "" {
			name = standing.PlayerID
		}
		response = append(response, leaderboardRowPayload{PlayerDisplayName: name, Score: standing.Score})
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) authorizeAdmin(c *gin.Context) {
	claims, err := h.admin.ValidateRequest(c.Request)
	if err != nil {
		h.logger.Warn("admin token rejected", zap.Error(err))
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrForbiddenAdminToken) {
			status = http.StatusForbidden
		}
		c.AbortWithStatusJSON(status, gin.H{"error": "unauthorized", "message": "admin token required"})
		return
	}
	c.Set(adminSubjectContextKey, claims.Subject)
	c.Next()
}

const adminSubjectContextKey = "cacamites_admin_subject"

func (h *httpHandler) handleReconcile(c *gin.Context) {
	players, err := h.reconciler.Run(c.Request.Context())
	if err != nil {
		h.logger.Error("admin reconcile failed", zap.String("subject", c.GetString(adminSubjectContextKey)), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "reconcile_failed", "internal error")
		return
	}
	h.logger.Info("admin reconcile completed", zap.String("subject", c.GetString(adminSubjectContextKey)), zap.Int("players", players))
	c.JSON(http.StatusOK, gin.H{"players": players})
}
