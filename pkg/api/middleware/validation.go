package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ValidatorConfig holds validation configuration
type ValidatorConfig struct {
	MaxBodySize      int64    // Maximum request body size in bytes
	CommandBlacklist []string // Dangerous command patterns
	MaxCommandLength int      // Maximum command length
	MaxEnvEntries    int      // Maximum number of environment entries
	MaxEnvValueLen   int      // Maximum length of a single environment value
}

// DefaultValidatorConfig returns safe defaults
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxBodySize:      1 << 20, // 1MB
		CommandBlacklist: []string{"rm -rf /", ":(){ :|:& };:", "mkfs", "dd if="},
		MaxCommandLength: 4096,
		MaxEnvEntries:    256,
		MaxEnvValueLen:   32 << 10,
	}
}

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validator performs request validation
type Validator struct {
	config           ValidatorConfig
	dangerousPattern *regexp.Regexp
}

// NewValidator creates a new validator with the given config
func NewValidator(config ValidatorConfig) *Validator {
	v := &Validator{config: config}
	if len(config.CommandBlacklist) > 0 {
		patterns := make([]string, len(config.CommandBlacklist))
		for i, p := range config.CommandBlacklist {
			patterns[i] = regexp.QuoteMeta(p)
		}
		v.dangerousPattern = regexp.MustCompile(strings.Join(patterns, "|"))
	}
	return v
}

// ValidateCommand checks if a command is safe to execute. An empty command
// is accepted; the task falls back to its configured default.
func (v *Validator) ValidateCommand(command string) error {
	if len(command) > v.config.MaxCommandLength {
		return &ValidationError{
			Field:   "command",
			Message: "command exceeds maximum length",
		}
	}

	if v.dangerousPattern != nil && v.dangerousPattern.MatchString(command) {
		return &ValidationError{
			Field:   "command",
			Message: "command contains potentially dangerous patterns",
		}
	}

	return nil
}

// ValidateEnv checks the replacement environment of a run.
func (v *Validator) ValidateEnv(env map[string]string) error {
	if len(env) > v.config.MaxEnvEntries {
		return &ValidationError{
			Field:   "env",
			Message: "too many environment entries",
		}
	}
	for key, value := range env {
		if !envKeyPattern.MatchString(key) {
			return &ValidationError{
				Field:   "env",
				Message: "invalid environment variable name: " + key,
			}
		}
		if len(value) > v.config.MaxEnvValueLen {
			return &ValidationError{
				Field:   "env",
				Message: "value of " + key + " exceeds maximum length",
			}
		}
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
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Next()
	}
}

// RequestIDKey is the gin context key holding the request ID.
const RequestIDKey = "request_id"

// RequestIDMiddleware propagates X-Request-ID, generating one when absent.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}
