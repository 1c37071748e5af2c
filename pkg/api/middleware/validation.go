package middleware

import (
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"seatengine/pkg/models"
)

// ValidatorConfig bounds the size and shape of election payloads.
type ValidatorConfig struct {
	MaxBodySize   int64 // Maximum request body size in bytes
	MaxNameLength int
	MaxDistricts  int
	MaxEntities   int
	IDPattern     string
}

// DefaultValidatorConfig returns limits that fit national elections.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxBodySize:   8 << 20, // tallies for every district
		MaxNameLength: 256,
		MaxDistricts:  2000,
		MaxEntities:   500,
		IDPattern:     `^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`,
	}
}

// Validator performs request validation
type Validator struct {
	config ValidatorConfig
	id     *regexp.Regexp
}

// NewValidator creates a new validator with the given config
func NewValidator(config ValidatorConfig) *Validator {
	return &Validator{
		config: config,
		id:     regexp.MustCompile(config.IDPattern),
	}
}

// ValidateElection checks identifiers and payload limits of an election
// definition. Structural rules (seats, coalitions) are checked by the model.
func (v *Validator) ValidateElection(e models.Election) error {
	if err := v.validateID("id", e.ID); err != nil {
		return err
	}
	if err := v.ValidateName(e.Name); err != nil {
		return err
	}
	switch e.Type {
	case models.ElectionTypeLegislative, models.ElectionTypePresidential, models.ElectionTypeLocal:
	default:
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown election type %q", e.Type)}
	}
	if len(e.Districts) == 0 {
		return &ValidationError{Field: "districts", Message: "at least one district is required"}
	}
	if len(e.Districts) > v.config.MaxDistricts {
		return &ValidationError{Field: "districts", Message: "too many districts"}
	}
	if len(e.Entities) > v.config.MaxEntities {
		return &ValidationError{Field: "entities", Message: "too many entities"}
	}
	for _, d := range e.Districts {
		if err := v.validateID("districts.id", d.ID); err != nil {
			return err
		}
	}
	for _, en := range e.Entities {
		if err := v.validateID("entities.id", en.ID); err != nil {
			return err
		}
	}
	for _, c := range e.Coalitions {
		if err := v.validateID("coalitions.id", c.ID); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTallies rejects negative counts and oversized uploads.
func (v *Validator) ValidateTallies(t models.Tallies) error {
	if len(t.PerDistrict) > v.config.MaxDistricts {
		return &ValidationError{Field: "per_district", Message: "too many districts"}
	}
	if t.TotalValidNational < 0 {
		return &ValidationError{Field: "total_valid_national", Message: "must not be negative"}
	}
	for districtID, total := range t.TotalValidPerDistrict {
		if total < 0 {
			return &ValidationError{Field: "total_valid_per_district", Message: "negative total in " + districtID}
		}
	}
	for districtID, votes := range t.PerDistrict {
		for entityID, n := range votes {
			if n < 0 {
				return &ValidationError{Field: "per_district", Message: fmt.Sprintf("negative votes for %s in %s", entityID, districtID)}
			}
		}
	}
	return nil
}

// ValidateName checks a display name
func (v *Validator) ValidateName(name string) error {
	if len(name) == 0 {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if len(name) > v.config.MaxNameLength {
		return &ValidationError{Field: "name", Message: "name exceeds maximum length"}
	}
	return nil
}

func (v *Validator) validateID(field, id string) error {
	if !v.id.MatchString(id) {
		return &ValidationError{Field: field, Message: fmt.Sprintf("invalid identifier %q", id)}
	}
	return nil
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// BodySizeLimitMiddleware limits request body size
func BodySizeLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "request body too large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// SecurityHeadersMiddleware adds security headers
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// RequestIDMiddleware propagates or assigns a request ID
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ContextRequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(ContextRequestIDKey)),
		}
		if claims, ok := GetUserFromContext(c); ok {
			fields = append(fields, zap.String("user_id", claims.UserID))
		}
		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Error("Request failed", fields...)
		case status >= 400:
			log.Warn("Request rejected", fields...)
		default:
			log.Info("Request served", fields...)
		}
	}
}
