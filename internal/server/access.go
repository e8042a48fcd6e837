package server

import (
	"strconv"

	"github.com/gin-gonic/gin"
	entdomain "github.com/railzwaylabs/insightpass/internal/entitlement/domain"
)

type accessQuery struct {
	DeviceID string `form:"deviceId"`
	UserID   string `form:"userId"`
	ChatID   string `form:"chatId"`
}

type accessResponse struct {
	HasAccess bool `json:"hasAccess"`
}

type assignRequest struct {
	DeviceID string `json:"deviceId"`
	UserID   string `json:"userId"`
	ChatID   string `json:"chatId"`
}

type assignResponse struct {
	Assigned      bool   `json:"assigned"`
	AlreadyBound  bool   `json:"alreadyBound"`
	EntitlementID string `json:"entitlementId,omitempty"`
}

// CheckAccess
// GET /api/access?deviceId=&userId=&chatId=
func (s *Server) CheckAccess(c *gin.Context) {
	var q accessQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ok, err := s.access.HasAccess(c.Request.Context(), entdomain.OwnerFor(q.DeviceID, q.UserID), q.ChatID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, accessResponse{HasAccess: ok})
}

// AssignChat
// POST /api/access/assign
func (s *Server) AssignChat(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	res, err := s.assigner.AssignToChat(c.Request.Context(), entdomain.OwnerFor(req.DeviceID, req.UserID), req.ChatID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := assignResponse{Assigned: res.Assigned, AlreadyBound: res.AlreadyBound}
	if res.EntitlementID != 0 {
		out.EntitlementID = strconv.FormatInt(res.EntitlementID.Int64(), 10)
	}
	respondData(c, out)
}
