// Package detectlog provides the structured logger used across every stage
// of the detection pipeline in place of fmt.Println/log.Printf.
package detectlog

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns a zerolog logger writing to stderr with a timestamp field.
func New() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Component returns a logger scoped to a pipeline stage, e.g. "vocabulary",
// "matcher", "homography", "orchestrator".
func Component(name string) zerolog.Logger {
	return New().With().Str("component", name).Logger()
}
