package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"seatengine/pkg/api/middleware"
	"seatengine/pkg/models"
	"seatengine/pkg/scheduler"
	"seatengine/pkg/storage"
)

// createRun handles POST /api/v1/elections/:id/runs. The run is computed and
// committed asynchronously by an executor.
func (s *Server) createRun(c *gin.Context) {
	ctx := c.Request.Context()
	var req ComputeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	election, err := s.elections.GetElection(ctx, c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	method := req.Method
	if method == "" {
		method = election.Method
	}
	if method == "" {
		method = scheduler.DefaultMethod
	}
	if _, err := s.registry.Get(method); err != nil {
		s.abortWithError(c, err)
		return
	}

	run, err := s.dispatcher.Enqueue(ctx, election.ID, method, 1, time.Time{})
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	s.log.Info("Run enqueued", append(middleware.CallerFields(c),
		zap.String("election_id", election.ID),
		zap.String("run_id", run.ID.String()),
		zap.String("method", method),
	)...)

	c.JSON(http.StatusAccepted, gin.H{
		"run_id": run.ID,
		"status": run.Status,
		"method": method,
	})
}

// listRuns handles GET /api/v1/elections/:id/runs?limit=
func (s *Server) listRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 200 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
		return
	}
	runs, err := s.runs.ListRuns(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// getRun handles GET /api/v1/elections/:id/runs/:run
func (s *Server) getRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("run"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run ID"})
		return
	}
	run, err := s.runs.GetRun(c.Request.Context(), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if run.ElectionID != c.Param("id") {
		s.abortWithError(c, storage.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, run)
}

// getResults handles GET /api/v1/elections/:id/results?level=DISTRICT|NATIONAL
func (s *Server) getResults(c *gin.Context) {
	level := models.Level(c.DefaultQuery("level", string(models.LevelDistrict)))
	if level != models.LevelDistrict && level != models.LevelNational {
		c.JSON(http.StatusBadRequest, gin.H{"error": "level must be DISTRICT or NATIONAL"})
		return
	}
	ctx := c.Request.Context()
	if _, err := s.elections.GetElection(ctx, c.Param("id")); err != nil {
		s.abortWithError(c, err)
		return
	}

	rows, err := s.results.GetResults(ctx, c.Param("id"), level)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	resp := gin.H{"election_id": c.Param("id"), "level": level, "results": rows}
	if len(rows) > 0 {
		resp["computed_at"] = rows[0].ComputedAt
	}
	c.JSON(http.StatusOK, resp)
}
