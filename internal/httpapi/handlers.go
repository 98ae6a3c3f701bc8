package httpapi

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"matchline/internal/auth"
	"matchline/internal/notify"
	"matchline/internal/pairkey"
	"matchline/internal/quota"
	"matchline/internal/session"
	"matchline/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth   *auth.Manager
	Calls  *session.Orchestrator
	Quota  *quota.Service
	Notify *notify.Dispatcher
	Hub    *notify.Hub

	// Health probes.
	DB  *sql.DB
	RDB *redis.Client
}

// --- Calls ---

type initiateCallRequest struct {
	RecipientID string `json:"recipient_id"`
}

func (h Handlers) InitiateCall(c *gin.Context) {
	callerID, err := auth.UserID(c.Request.Context())
	if err != nil || callerID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}

	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.RecipientID) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "recipient_id required"})
		return
	}
	if req.RecipientID == callerID {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "cannot call yourself"})
		return
	}

	s, err := h.Calls.Initiate(c.Request.Context(), callerID, req.RecipientID)
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h Handlers) UpdateCallStatus(c *gin.Context) {
	callerID, err := auth.UserID(c.Request.Context())
	if err != nil || callerID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	sessionID := c.Param("id")

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	status, ok := session.ParseStatus(req.Status)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}

	// Participant check happens before the transition so a stranger cannot
	// probe or mutate someone else's session.
	current, err := h.Calls.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		writeSessionError(c, err)
		return
	}
	if !current.PairKey.Contains(callerID) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	s, err := h.Calls.UpdateStatus(c.Request.Context(), sessionID, status)
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) GetCall(c *gin.Context) {
	callerID, err := auth.UserID(c.Request.Context())
	if err != nil || callerID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}

	s, err := h.Calls.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeSessionError(c, err)
		return
	}
	if !s.PairKey.Contains(callerID) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, s)
}

// --- Quota ---

// GetQuota reports the caller's remaining call time with the named user.
func (h Handlers) GetQuota(c *gin.Context) {
	callerID, err := auth.UserID(c.Request.Context())
	if err != nil || callerID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	otherID := c.Param("user_id")
	if otherID == "" || otherID == callerID {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id must name another user"})
		return
	}

	rem, err := h.Calls.Remaining(c.Request.Context(), callerID, otherID)
	if err != nil {
		writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, rem)
}

// AdminResetQuota clears a pair's ledger for the current period.
// The pair path parameter uses the canonical "low:high" form.
func (h Handlers) AdminResetQuota(c *gin.Context) {
	pair := c.Param("pair")
	low, high, ok := strings.Cut(pair, ":")
	if !ok || strings.TrimSpace(low) == "" || strings.TrimSpace(high) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "pair must be \"userA:userB\""})
		return
	}

	key := pairkey.Normalize(low, high)
	if err := h.Quota.Reset(c.Request.Context(), key); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reset failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pair_key": key, "period": h.Quota.PeriodKey(), "status": "reset"})
}

// --- Notifications ---

func (h Handlers) ListNotifications(c *gin.Context) {
	callerID, err := auth.UserID(c.Request.Context())
	if err != nil || callerID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}

	envs, err := h.Notify.ListPending(c.Request.Context(), callerID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "notification lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": envs})
}

func (h Handlers) ClearNotifications(c *gin.Context) {
	callerID, err := auth.UserID(c.Request.Context())
	if err != nil || callerID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	sessionID := c.Param("session_id")
	if sessionID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "session_id required"})
		return
	}

	if err := h.Notify.Clear(c.Request.Context(), sessionID, callerID); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "clear failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// --- WebSocket ---

// AttachWS upgrades the request and registers the caller's socket with the
// hub. The socket doubles as a presence signal for the dispatcher.
func (h Handlers) AttachWS(c *gin.Context) {
	callerID, err := auth.UserID(c.Request.Context())
	if err != nil || callerID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	h.Hub.ServeWS(c.Writer, c.Request, callerID)
}

// --- Auth (local development) ---

type tokenRequest struct {
	UserID string `json:"user_id"`
	Tier   string `json:"tier"`
}

// IssueToken mints an access token without credential checks. Routes wire it
// only outside production; real identity belongs to the surrounding platform.
func (h Handlers) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Tier == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, tier required"})
		return
	}

	token, err := h.Auth.Issue(time.Now(), req.UserID, req.Tier)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token})
}

// --- Health ---

func (h Handlers) Health(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if h.DB != nil {
		if err := utils.HealthCheck(c.Request.Context(), h.DB, 2*time.Second); err != nil {
			checks["postgres"] = err.Error()
			healthy = false
		} else {
			checks["postgres"] = "ok"
		}
	}
	if h.RDB != nil {
		if err := h.RDB.Ping(c.Request.Context()).Err(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	code := http.StatusOK
	status := "ok"
	if !healthy {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	c.JSON(code, gin.H{"status": status, "checks": checks})
}

// writeSessionError maps service errors onto HTTP responses. Quota
// exhaustion carries the remaining time so clients can render it without a
// second round trip.
func writeSessionError(c *gin.Context, err error) {
	var quotaErr *session.QuotaExhaustedError
	var transitionErr *session.InvalidTransitionError

	switch {
	case errors.Is(err, session.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrRecipientNotFound), errors.Is(err, session.ErrSessionNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrUnauthorized):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &quotaErr):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":             "quota_exhausted",
			"remaining_seconds": quotaErr.RemainingSeconds,
			"cap_seconds":       quotaErr.CapSeconds,
		})
	case errors.As(err, &transitionErr):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error": "invalid_transition",
			"from":  transitionErr.From,
			"to":    transitionErr.To,
		})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
