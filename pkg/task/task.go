package task

import (
	"context"
	"errors"
	"strings"
	"unicode"
)

// ErrInvalidArgument is returned when a task is invoked with arguments it
// cannot act on. It is an engine-level error, not a failure signal.
var ErrInvalidArgument = errors.New("invalid argument")

// Invocation carries the per-call arguments of a task run.
type Invocation struct {
	Command string            `json:"command,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Runnable is implemented by every task the executor can drive.
type Runnable interface {
	Name() string
	// Execute runs the task once. A *signals.Fail error means the task
	// failed; any other error is an engine error.
	Execute(ctx context.Context, inv Invocation) ([]byte, error)
}

// Config holds the settings shared by all tasks.
type Config struct {
	Name        string
	Slug        string
	Description string
	Tags        []string
}

// DefaultConfig returns a Config with the slug derived from name.
func DefaultConfig(name string) Config {
	return Config{
		Name: name,
		Slug: Slugify(name),
	}
}

// Base is embedded by concrete tasks.
type Base struct {
	name        string
	slug        string
	description string
	tags        []string
}

// NewBase builds a Base from cfg. An empty slug is derived from the name.
func NewBase(cfg Config) Base {
	slug := cfg.Slug
	if slug == "" {
		slug = Slugify(cfg.Name)
	}
	tags := make([]string, len(cfg.Tags))
	copy(tags, cfg.Tags)

	return Base{
		name:        cfg.Name,
		slug:        slug,
		description: cfg.Description,
		tags:        tags,
	}
}

func (b Base) Name() string        { return b.name }
func (b Base) Slug() string        { return b.slug }
func (b Base) Description() string { return b.description }

// Tags returns a copy of the task tags.
func (b Base) Tags() []string {
	tags := make([]string, len(b.tags))
	copy(tags, b.tags)
	return tags
}

// Slugify lower-cases s and collapses runs of non-alphanumerics into "-".
func Slugify(s string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			dash = false
			continue
		}
		if !dash && sb.Len() > 0 {
			sb.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}
