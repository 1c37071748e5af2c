package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"seatengine/pkg/api/middleware"
	"seatengine/pkg/models"
	"seatengine/pkg/scheduler"
)

// createElection handles POST /api/v1/elections
func (s *Server) createElection(c *gin.Context) {
	var election models.Election
	if err := c.ShouldBindJSON(&election); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validator.ValidateElection(election); err != nil {
		s.abortWithError(c, err)
		return
	}
	if err := election.Validate(); err != nil {
		s.abortWithError(c, err)
		return
	}
	if election.Method != "" {
		if _, err := s.registry.Get(election.Method); err != nil {
			s.abortWithError(c, err)
			return
		}
	}

	election.NextRunAt = nil
	if election.Schedule != "" {
		schedule, err := scheduler.ParseSchedule(election.Schedule)
		if err != nil {
			s.abortWithError(c, &middleware.ValidationError{Field: "schedule", Message: err.Error()})
			return
		}
		next := schedule.Next(time.Now())
		election.NextRunAt = &next
	}

	if err := s.elections.CreateElection(c.Request.Context(), &election); err != nil {
		s.abortWithError(c, err)
		return
	}

	s.log.Info("Election registered", append(middleware.CallerFields(c),
		zap.String("election_id", election.ID),
		zap.Int("districts", len(election.Districts)),
		zap.Int("entities", len(election.Entities)),
	)...)
	c.JSON(http.StatusCreated, election)
}

// getElection handles GET /api/v1/elections/:id
func (s *Server) getElection(c *gin.Context) {
	election, err := s.elections.GetElection(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, election)
}

// replaceTallies handles PUT /api/v1/elections/:id/tallies
func (s *Server) replaceTallies(c *gin.Context) {
	ctx := c.Request.Context()
	election, err := s.elections.GetElection(ctx, c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	var tallies models.Tallies
	if err := c.ShouldBindJSON(&tallies); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validator.ValidateTallies(tallies); err != nil {
		s.abortWithError(c, err)
		return
	}
	// reject uploads the engine would refuse before they replace good tallies
	if err := s.engine.Evaluator().CheckTallies(*election, tallies); err != nil {
		s.abortWithError(c, err)
		return
	}

	if err := s.tallies.ReplaceTallies(ctx, election.ID, tallies); err != nil {
		s.abortWithError(c, err)
		return
	}

	s.log.Info("Tallies replaced", append(middleware.CallerFields(c),
		zap.String("election_id", election.ID),
		zap.Int("districts", len(tallies.PerDistrict)),
		zap.Int64("total_valid_national", tallies.TotalValidNational),
	)...)
	c.JSON(http.StatusOK, gin.H{
		"election_id":          election.ID,
		"districts":            len(tallies.PerDistrict),
		"total_valid_national": tallies.TotalValidNational,
	})
}

// getTallies handles GET /api/v1/elections/:id/tallies
func (s *Server) getTallies(c *gin.Context) {
	tallies, err := s.tallies.GetTallies(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tallies)
}

// evaluateEligibility handles GET /api/v1/elections/:id/eligibility
func (s *Server) evaluateEligibility(c *gin.Context) {
	election, tallies, ok := s.loadInputs(c)
	if !ok {
		return
	}

	eligibility, err := s.engine.Evaluator().Evaluate(*election, tallies)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	policy := s.engine.Evaluator().Policy()
	c.JSON(http.StatusOK, gin.H{
		"election_id": election.ID,
		"policy": gin.H{
			"district_threshold_pct": policy.DistrictThresholdPct,
			"national_threshold_pct": policy.NationalThresholdPct,
			"tolerance":              policy.Tolerance,
		},
		"eligibility": eligibility,
	})
}

// loadInputs fetches the election and its tallies once for a computation.
func (s *Server) loadInputs(c *gin.Context) (*models.Election, models.Tallies, bool) {
	ctx := c.Request.Context()
	election, err := s.elections.GetElection(ctx, c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return nil, models.Tallies{}, false
	}
	tallies, err := s.tallies.GetTallies(ctx, election.ID)
	if err != nil {
		s.abortWithError(c, err)
		return nil, models.Tallies{}, false
	}
	return election, tallies, true
}
