package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"recording-pipeline/constant"
	"recording-pipeline/pkg/workers"
	"recording-pipeline/service"
)

type routeDependencies struct {
	ingest   service.IngestService
	finalize service.FinalizeService
	manager  *workers.Manager
	workDir  string
}

func addRoutes(r *gin.Engine, deps routeDependencies) {
	r.POST("/sessions/:id/chunks", uploadChunk(deps))
	r.POST("/sessions/:id/end", endSession(deps))
	r.GET("/sessions/:id/media", getMedia(deps))
	r.DELETE("/sessions/:id", deleteSession(deps))
	r.POST("/workers", controlWorkers(deps))
}

// uploadChunk accepts one recorded chunk as multipart form data:
// producerId, kind and the binary file. No session status is touched.
func uploadChunk(deps routeDependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		producerId, err := uuid.Parse(c.PostForm("producerId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "producerId is required"})
			return
		}
		kind := constant.MediaKind(c.PostForm("kind"))
		if !kind.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be audio or video"})
			return
		}
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}

		localPath := filepath.Join(deps.workDir, "uploads", uuid.New().String())
		if err := c.SaveUploadedFile(file, localPath); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to receive chunk"})
			return
		}
		defer func() {
			if removeErr := os.Remove(localPath); removeErr != nil {
				zerolog.Ctx(c.Request.Context()).Warn().Err(removeErr).Msg("failed to remove uploaded temp file")
			}
		}()

		chunk, err := deps.ingest.UploadChunk(c.Request.Context(), sessionId, producerId, kind, localPath, file.Size)
		if err != nil {
			zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("chunk ingest failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store chunk"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"id":         chunk.ID,
			"chunkIndex": chunk.ChunkIndex,
			"objectKey":  chunk.ObjectKey,
		})
	}
}

type endSessionRequest struct {
	UserId uuid.UUID `json:"userId" binding:"required"`
}

func endSession(deps routeDependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		var req endSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
			return
		}

		result, err := deps.finalize.EndSession(c.Request.Context(), sessionId, req.UserId)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrSessionNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			case errors.Is(err, service.ErrNotMember):
				c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this session"})
			case errors.Is(err, service.ErrSessionConflict):
				c.JSON(http.StatusBadRequest, gin.H{"error": "session already ended or processing"})
			default:
				zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("end session failed")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to end session"})
			}
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

// getMedia hands out a time-limited download link for the session's
// final deliverable.
func getMedia(deps routeDependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}

		media, err := deps.finalize.FinalMedia(c.Request.Context(), sessionId)
		if err != nil {
			if errors.Is(err, service.ErrMediaNotReady) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no final media for this session"})
				return
			}
			zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("resolve final media failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve final media"})
			return
		}

		c.JSON(http.StatusOK, media)
	}
}

func deleteSession(deps routeDependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		userId, err := uuid.Parse(c.Query("userId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
			return
		}

		err = deps.finalize.DeleteSession(c.Request.Context(), sessionId, userId)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrSessionNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			case errors.Is(err, service.ErrNotHost):
				c.JSON(http.StatusForbidden, gin.H{"error": "only the host can delete a session"})
			default:
				zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("delete session failed")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete session"})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

type workersRequest struct {
	Action     string `json:"action" binding:"required"`
	WorkerName string `json:"workerName"`
}

func controlWorkers(deps routeDependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req workersRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "action is required"})
			return
		}

		ctx := c.Request.Context()
		var err error
		switch req.Action {
		case "start":
			if req.WorkerName != "" {
				err = deps.manager.Start(ctx, req.WorkerName)
			} else {
				err = deps.manager.StartAll(ctx)
			}
		case "stop":
			if req.WorkerName != "" {
				err = deps.manager.Stop(ctx, req.WorkerName)
			} else {
				err = deps.manager.StopAll(ctx)
			}
		case "restart":
			if req.WorkerName == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "workerName is required for restart"})
				return
			}
			err = deps.manager.Restart(ctx, req.WorkerName)
		case "ensure-running":
			err = deps.manager.EnsureRunning(ctx)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action"})
			return
		}

		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   err.Error(),
				"workers": deps.manager.Running(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"workers": deps.manager.Running(),
		})
	}
}
