package rpc

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/auth"
)

// Router builds the gin engine implementing both RPC boundaries over HTTP,
// per the documented transport (C11/C15): JSON request/response bodies,
// bearer-token auth, and websocket upgrades for the three live-stream
// endpoints (screen, transfer, channel).
type Router struct {
	svc      *Service
	log      zerolog.Logger
	shutdown context.CancelFunc
}

func NewRouter(svc *Service, log zerolog.Logger, shutdown context.CancelFunc) *Router {
	return &Router{svc: svc, log: log.With().Str("component", "rpc-router").Logger(), shutdown: shutdown}
}

func respondErr(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// Build assembles the gin.Engine. Called once at startup; the returned
// engine is handed to http.Server.
func (r *Router) Build() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(requestID(), recovery(r.log), accessLog(r.log), rateLimit(50, 100))

	manage := e.Group("/api/manage", authenticate(r.svc))
	r.registerManage(manage)

	client := e.Group("/api/client", authenticate(r.svc), requireServerPrincipal())
	r.registerClient(client)

	e.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	return e
}

func (r *Router) registerManage(g *gin.RouterGroup) {
	g.POST("/stop", requirePermission(auth.PermRequestStop), func(c *gin.Context) {
		r.shutdown()
		c.Status(http.StatusAccepted)
	})

	g.POST("/nodes", requirePermission(auth.PermCreateNode), func(c *gin.Context) {
		var req CreateNodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := r.svc.CreateNode(c.Request.Context(), req); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusCreated)
	})
	g.PATCH("/nodes/:name", requirePermission(auth.PermUpdateNode), func(c *gin.Context) {
		var req UpdateNodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.Name = c.Param("name")
		if err := r.svc.UpdateNode(c.Request.Context(), req); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	g.GET("/nodes/:name", requirePermission(auth.PermGetNode), func(c *gin.Context) {
		dto, err := r.svc.GetNode(c.Request.Context(), c.Param("name"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, dto)
	})
	g.GET("/nodes", requirePermission(auth.PermGetNode), func(c *gin.Context) {
		dtos, err := r.svc.GetNodes(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, dtos)
	})
	g.DELETE("/nodes/:name", requirePermission(auth.PermDeleteResource), func(c *gin.Context) {
		if err := r.svc.DeleteNode(c.Request.Context(), c.Param("name")); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/groups", requirePermission(auth.PermCreateGroup), func(c *gin.Context) {
		var req CreateGroupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := r.svc.CreateGroup(c.Request.Context(), req); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusCreated)
	})
	g.PATCH("/groups/:name", requirePermission(auth.PermUpdateGroup), func(c *gin.Context) {
		var req UpdateGroupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.Name = c.Param("name")
		if err := r.svc.UpdateGroup(c.Request.Context(), req); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	g.GET("/groups/:name", requirePermission(auth.PermGetGroup), func(c *gin.Context) {
		dto, err := r.svc.GetGroup(c.Request.Context(), c.Param("name"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, dto)
	})
	g.GET("/groups", requirePermission(auth.PermGetGroup), func(c *gin.Context) {
		dtos, err := r.svc.GetGroups(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, dtos)
	})
	g.DELETE("/groups/:name", requirePermission(auth.PermDeleteResource), func(c *gin.Context) {
		if err := r.svc.DeleteGroup(c.Request.Context(), c.Param("name")); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/servers", requirePermission(auth.PermScheduleServer), func(c *gin.Context) {
		var req ScheduleServerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := r.svc.ScheduleServer(c.Request.Context(), req)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"uuid": id})
	})
	g.GET("/servers/:id", requirePermission(auth.PermGetServer), func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
			return
		}
		dto, err := r.svc.GetServer(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, dto)
	})
	g.GET("/servers", requirePermission(auth.PermGetServer), func(c *gin.Context) {
		dtos, err := r.svc.GetServers(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, dtos)
	})
	g.POST("/servers/:id/stop", requirePermission(auth.PermRequestStop), func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
			return
		}
		if err := r.svc.RequestServerStop(c.Request.Context(), id); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusAccepted)
	})
	g.POST("/servers/:id/screen", requirePermission(auth.PermWriteToScreen), func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
			return
		}
		data, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := r.svc.WriteToScreen(c.Request.Context(), id, data); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	g.GET("/servers/:id/screen/ws", requirePermission(auth.PermReadScreen), func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
			return
		}
		serveScreenSocket(c, r.svc, id)
	})

	g.POST("/transfer", requirePermission(auth.PermTransferUser), func(c *gin.Context) {
		var req TransferUsersRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		moved, err := r.svc.TransferUsers(c.Request.Context(), req)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"moved": moved})
	})

	g.PUT("/resources", requirePermission(auth.PermSetResource), func(c *gin.Context) {
		var req SetResourceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var err error
		switch req.Category {
		case ResourceNode:
			err = r.svc.UpdateNode(c.Request.Context(), UpdateNodeRequest{Name: req.ID, Active: &req.Active})
		case ResourceGroup:
			err = r.svc.UpdateGroup(c.Request.Context(), UpdateGroupRequest{Name: req.ID, Active: &req.Active})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported resource category"})
			return
		}
		if err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	g.DELETE("/resources", requirePermission(auth.PermDeleteResource), func(c *gin.Context) {
		var req DeleteResourceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var err error
		switch req.Category {
		case ResourceNode:
			err = r.svc.DeleteNode(c.Request.Context(), req.ID)
		case ResourceGroup:
			err = r.svc.DeleteGroup(c.Request.Context(), req.ID)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported resource category"})
			return
		}
		if err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

func (r *Router) registerClient(g *gin.RouterGroup) {
	g.POST("/heartbeat", func(c *gin.Context) {
		if err := r.svc.Heartbeat(c.Request.Context(), principalFrom(c).ServerID); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	g.POST("/running", func(c *gin.Context) {
		if err := r.svc.MarkRunning(c.Request.Context(), principalFrom(c).ServerID); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	g.POST("/ready", func(c *gin.Context) {
		if err := r.svc.SetReady(c.Request.Context(), principalFrom(c).ServerID, true); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	g.POST("/not-ready", func(c *gin.Context) {
		if err := r.svc.SetReady(c.Request.Context(), principalFrom(c).ServerID, false); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	g.POST("/reset", func(c *gin.Context) {
		if err := r.svc.Reset(c.Request.Context(), tokenFrom(c)); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	g.POST("/stop", func(c *gin.Context) {
		if err := r.svc.RequestServerStop(c.Request.Context(), principalFrom(c).ServerID); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusAccepted)
	})
	g.POST("/users/connected", func(c *gin.Context) {
		var req UserConnectedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := r.svc.UserConnected(c.Request.Context(), principalFrom(c).ServerID, req); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	g.POST("/users/disconnected", func(c *gin.Context) {
		var req UserDisconnectedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := r.svc.UserDisconnected(c.Request.Context(), principalFrom(c).ServerID, req); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	g.POST("/transfer", func(c *gin.Context) {
		var req TransferUsersRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		moved, err := r.svc.TransferUsers(c.Request.Context(), req)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"moved": moved})
	})
	g.POST("/channel/send", func(c *gin.Context) {
		var req ChannelMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := r.svc.SendChannel(c.Request.Context(), principalFrom(c).ServerID, req); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	g.GET("/transfer/ws", func(c *gin.Context) {
		serveTransferSocket(c, r.svc, principalFrom(c).ServerID)
	})
	g.GET("/channel/:name/ws", func(c *gin.Context) {
		serveChannelSocket(c, r.svc, c.Param("name"))
	})
}
