package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"seatengine/pkg/apportionment"
	"seatengine/pkg/scheduler"
)

// ComputeRequest selects the method of a synchronous computation.
type ComputeRequest struct {
	Method string `json:"method"`
}

// CompareRequest selects the two methods to compare, optionally for a single district.
type CompareRequest struct {
	MethodA  string `json:"method_a" binding:"required"`
	MethodB  string `json:"method_b" binding:"required"`
	District string `json:"district"`
}

// bindMethod reads an optional {method} body and resolves it, defaulting to the standard method.
func (s *Server) bindMethod(c *gin.Context) (apportionment.Method, bool) {
	var req ComputeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return nil, false
		}
	}
	if req.Method == "" {
		req.Method = scheduler.DefaultMethod
	}
	method, err := s.registry.Get(req.Method)
	if err != nil {
		s.abortWithError(c, err)
		return nil, false
	}
	return method, true
}

// computeDistrict handles POST /api/v1/elections/:id/districts/:district/compute.
// Nothing is persisted.
func (s *Server) computeDistrict(c *gin.Context) {
	method, ok := s.bindMethod(c)
	if !ok {
		return
	}
	election, tallies, ok := s.loadInputs(c)
	if !ok {
		return
	}

	result, err := s.engine.ComputeDistrict(c.Request.Context(), *election, c.Param("district"), tallies, method)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"election_id":    election.ID,
		"method":         method.Name(),
		"method_version": method.Version(),
		"result":         result,
	})
}

// computeElection handles POST /api/v1/elections/:id/compute. It previews a full
// computation without persisting it; failed districts are listed in "errors".
func (s *Server) computeElection(c *gin.Context) {
	method, ok := s.bindMethod(c)
	if !ok {
		return
	}
	election, tallies, ok := s.loadInputs(c)
	if !ok {
		return
	}

	result, err := s.engine.ComputeElection(c.Request.Context(), *election, tallies, method)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	digest, err := s.engine.InputsDigest(*election, tallies, method)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"result":        result,
		"partial":       result.Partial(),
		"errors":        result.ErrorMessages(*election),
		"inputs_digest": digest,
	})
}

// compareMethods handles POST /api/v1/elections/:id/compare
func (s *Server) compareMethods(c *gin.Context) {
	var req CompareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := s.registry.Get(req.MethodA)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	b, err := s.registry.Get(req.MethodB)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	election, tallies, ok := s.loadInputs(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if req.District != "" {
		diff, err := s.engine.CompareMethods(ctx, *election, req.District, tallies, a, b)
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"election_id": election.ID, "diffs": []apportionment.Diff{diff}})
		return
	}

	diffs, districtErrs, err := s.engine.CompareElection(ctx, *election, tallies, a, b)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	ordered := make([]apportionment.Diff, 0, len(diffs))
	var errs []string
	for _, d := range election.Districts {
		if diff, ok := diffs[d.ID]; ok {
			ordered = append(ordered, diff)
		}
		if err, ok := districtErrs[d.ID]; ok {
			errs = append(errs, d.ID+": "+err.Error())
		}
	}
	c.JSON(http.StatusOK, gin.H{"election_id": election.ID, "diffs": ordered, "errors": errs})
}

// listMethods handles GET /api/v1/methods
func (s *Server) listMethods(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"methods": s.registry.Names()})
}
