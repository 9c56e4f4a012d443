// Package webapi exposes the administrative HTTP surface (§4.14) over
// gin, the teacher's own web framework: one route group per resource,
// JSON bind in, manager call, JSON reply out, mirroring api.go's shape.
package webapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ambientd/internal/config"
	"ambientd/internal/instance"
	"ambientd/internal/mux"
)

// Manager is the subset of the instance registry the web surface needs:
// looking an instance up by id and listing/persisting configuration.
type Manager interface {
	Instance(id string) (*instance.Instance, bool)
	Instances() map[string]*instance.Instance
	Store() config.Store
}

// NewRouter builds the gin.Engine exposing /api/instances,
// /api/instances/:id/priorities, /api/instances/:id/effects and
// /api/auth.
func NewRouter(mgr Manager) *gin.Engine {
	r := gin.Default()

	r.POST("/api/auth", func(c *gin.Context) {
		var req struct {
			User string `json:"user"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess, err := mgr.Store().IssueToken(req.User, 24*time.Hour)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": sess.Token, "expires_at": sess.ExpiresAt})
	})

	instances := r.Group("/api/instances")
	{
		instances.GET("/", func(c *gin.Context) {
			list, err := mgr.Store().ListInstances()
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, list)
		})

		instances.POST("/", func(c *gin.Context) {
			var ic config.InstanceConfig
			if err := c.ShouldBindJSON(&ic); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if err := mgr.Store().UpsertInstance(ic); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusCreated, gin.H{"status": "success", "id": ic.ID})
		})

		instances.DELETE("/:id", func(c *gin.Context) {
			id := c.Param("id")
			if err := mgr.Store().DeleteInstance(id); err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
		})

		instances.GET("/:id/priorities", func(c *gin.Context) {
			inst, ok := mgr.Instance(c.Param("id"))
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown instance"})
				return
			}
			c.JSON(http.StatusOK, inst.Snapshot())
		})

		instances.POST("/:id/effects", func(c *gin.Context) {
			inst, ok := mgr.Instance(c.Param("id"))
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown instance"})
				return
			}
			var req struct {
				Priority   uint8          `json:"priority"`
				Name       string         `json:"name"`
				Args       map[string]any `json:"args"`
				DurationMs int64          `json:"duration_ms"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			source, err := inst.Register("webapi", "webapi:"+req.Name, mux.Permissions{
				MinPriority: mux.Priority(req.Priority),
				MaxPriority: mux.Priority(req.Priority),
				Admin:       true,
			})
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}

			msg := mux.Effect{Priority: mux.Priority(req.Priority), Name: req.Name, Args: req.Args}
			if req.DurationMs > 0 {
				d := time.Duration(req.DurationMs) * time.Millisecond
				msg.Duration = &d
			}
			if err := inst.Push(source, msg, time.Now()); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusCreated, gin.H{"status": "success", "name": req.Name})
		})
	}

	return r
}
