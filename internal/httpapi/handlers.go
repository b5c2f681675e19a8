package httpapi

import (
	"errors"
	"net/http"
	"time"

	"school-platform/internal/auth"
	"school-platform/internal/identity"
	"school-platform/internal/presence"
	"school-platform/internal/rbac"
	"school-platform/internal/session"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth     *auth.Manager
	Sessions *session.Registry
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	SchoolID string `json:"school_id"`
	Role     string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.SchoolID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, school_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.SchoolID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Call session ---

func (h Handlers) userSession(c *gin.Context) (*session.UserSession, bool) {
	if h.Sessions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sessions not configured"})
		return nil, false
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return nil, false
	}
	schoolID, _ := auth.SchoolID(c.Request.Context())
	us, err := h.Sessions.ForUser(identity.Identity{
		UserID:      userID,
		SchoolID:    schoolID,
		DisplayName: c.GetString("display_name"),
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
		return nil, false
	}
	return us, true
}

// GetCallState returns the caller's current call snapshot.
func (h Handlers) GetCallState(c *gin.Context) {
	us, ok := h.userSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, us.Coordinator.Snapshot())
}

type startCallRequest struct {
	CalleeID string `json:"callee_id"`
	CallType string `json:"call_type"` // voice | video
}

// StartCall begins an outgoing call. A pre-flight denial maps to 403
// with the user-facing reason.
func (h Handlers) StartCall(c *gin.Context) {
	us, ok := h.userSession(c)
	if !ok {
		return
	}
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.CalleeID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "callee_id required"})
		return
	}

	var err error
	switch req.CallType {
	case "voice":
		err = us.Coordinator.StartVoiceCall(c.Request.Context(), req.CalleeID)
	case "video":
		err = us.Coordinator.StartVideoCall(c.Request.Context(), req.CalleeID)
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_type must be voice or video"})
		return
	}

	var denied *session.DeniedError
	switch {
	case errors.As(err, &denied):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": denied.Reason})
	case errors.Is(err, session.ErrCallInProgress):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call already in progress"})
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call start failed"})
	default:
		c.JSON(http.StatusOK, us.Coordinator.Snapshot())
	}
}

func (h Handlers) AnswerCall(c *gin.Context) {
	us, ok := h.userSession(c)
	if !ok {
		return
	}
	err := us.Coordinator.AnswerCall(c.Request.Context())
	if errors.Is(err, session.ErrNoIncomingCall) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "no incoming call"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "answer failed"})
		return
	}
	c.JSON(http.StatusOK, us.Coordinator.Snapshot())
}

func (h Handlers) RejectCall(c *gin.Context) {
	us, ok := h.userSession(c)
	if !ok {
		return
	}
	if err := us.Coordinator.RejectCall(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reject failed"})
		return
	}
	c.JSON(http.StatusOK, us.Coordinator.Snapshot())
}

func (h Handlers) EndCall(c *gin.Context) {
	us, ok := h.userSession(c)
	if !ok {
		return
	}
	if err := us.Coordinator.EndCall(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "end failed"})
		return
	}
	c.JSON(http.StatusOK, us.Coordinator.Snapshot())
}

func (h Handlers) ReturnToCall(c *gin.Context) {
	us, ok := h.userSession(c)
	if !ok {
		return
	}
	returned := us.Coordinator.ReturnToCall()
	c.JSON(http.StatusOK, gin.H{"returned": returned, "session": us.Coordinator.Snapshot()})
}

// --- Presence ---

// Heartbeat marks the caller as interacting and re-asserts presence.
// Clients send this on app foreground and on their own interval.
func (h Handlers) Heartbeat(c *gin.Context) {
	us, ok := h.userSession(c)
	if !ok {
		return
	}
	us.Presence.RecordInteraction()
	us.Presence.Heartbeat(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// Background demotes the caller to away immediately, without waiting
// for the next heartbeat tick.
func (h Handlers) Background(c *gin.Context) {
	us, ok := h.userSession(c)
	if !ok {
		return
	}
	if us.Runner != nil {
		us.Runner.AppBackground(c.Request.Context())
	} else {
		us.Presence.SetStatus(c.Request.Context(), presence.StatusAway)
	}
	c.Status(http.StatusNoContent)
}

// GetPresence answers liveness questions about another user.
func (h Handlers) GetPresence(c *gin.Context) {
	us, ok := h.userSession(c)
	if !ok {
		return
	}
	userID := c.Param("user_id")
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":   userID,
		"online":    us.Presence.IsUserOnline(c.Request.Context(), userID),
		"last_seen": us.Presence.LastSeenText(c.Request.Context(), userID),
	})
}

// Convenience middleware bundles.

func RequireSchoolAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireSchool(), rbac.RequireAnyRole(roles...)}
}
