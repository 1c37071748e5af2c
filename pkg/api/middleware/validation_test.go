package middleware_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	. "seatengine/pkg/api/middleware"
	"seatengine/pkg/models"
)

func validElection() models.Election {
	return models.Election{
		ID:        "leg-2026",
		Name:      "Legislative 2026",
		Type:      models.ElectionTypeLegislative,
		Districts: []models.District{{ID: "D1", TotalSeats: 3}},
		Entities:  []models.Entity{{ID: "PARTY_A"}, {ID: "party.b"}},
	}
}

func TestValidator_ValidateElection_AcceptsWellFormed(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	assert.NoError(t, v.ValidateElection(validElection()))
}

func TestValidator_ValidateElection_Rejects(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	tests := map[string]func(e *models.Election){
		"bad id":        func(e *models.Election) { e.ID = "../etc" },
		"empty name":    func(e *models.Election) { e.Name = "" },
		"unknown type":  func(e *models.Election) { e.Type = "REFERENDUM" },
		"no districts":  func(e *models.Election) { e.Districts = nil },
		"bad entity id": func(e *models.Election) { e.Entities[0].ID = "A B" },
		"long id":       func(e *models.Election) { e.Districts[0].ID = strings.Repeat("d", 80) },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			e := validElection()
			mutate(&e)
			var verr *ValidationError
			assert.ErrorAs(t, v.ValidateElection(e), &verr)
		})
	}
}

func TestValidator_ValidateElection_Limits(t *testing.T) {
	config := DefaultValidatorConfig()
	config.MaxEntities = 1
	v := NewValidator(config)

	assert.Error(t, v.ValidateElection(validElection()))
}

func TestValidator_ValidateTallies(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	tallies := models.NewTallies()
	tallies.Add("D1", "A", 10)
	tallies.TotalValidPerDistrict["D1"] = 10
	tallies.TotalValidNational = 10
	assert.NoError(t, v.ValidateTallies(tallies))

	tallies.Add("D1", "B", -1)
	assert.Error(t, v.ValidateTallies(tallies))
}

func TestValidator_ValidateName_RejectsTooLong(t *testing.T) {
	config := DefaultValidatorConfig()
	config.MaxNameLength = 5
	v := NewValidator(config)

	if err := v.ValidateName("toolongname"); err == nil {
		t.Error("expected too long name to be rejected")
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Field: "districts", Message: "is required"}
	assert.Equal(t, "districts: is required", err.Error())
}
