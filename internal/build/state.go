// Package build owns the compilation unit across incremental builds. It
// recreates the program from the overlay's change set, discovers lazy
// routes, preloads component resources, gathers diagnostics and emits the
// changed modules through the transform pipeline.
package build

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"ngweave/internal/diag"
	"ngweave/internal/routes"
)

// State is the manager's state between builds.
type State int

const (
	// StateCold means there is no program; the next build starts fresh.
	StateCold State = iota
	// StateWarm means the last build succeeded.
	StateWarm
	// StateFailed means the last build reported errors. The program and the
	// change set are kept, so the next build is incremental.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCold:
		return "cold"
	case StateWarm:
		return "warm"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Mode selects which diagnostic categories are gathered.
type Mode int

const (
	// ModeFast gathers syntactic and lint diagnostics.
	ModeFast Mode = iota
	// ModeFull adds semantic and structural diagnostics.
	ModeFull
)

func (m Mode) String() string {
	if m == ModeFull {
		return "full"
	}
	return "fast"
}

// Result describes one build.
type Result struct {
	BuildID uuid.UUID
	// State is the manager state after the build.
	State State
	// Incremental reports whether the build reused a previous program.
	Incremental bool
	Mode        Mode
	// Emitted maps source paths emitted by this build to their output.
	Emitted  map[string]string
	Buckets  *diag.Buckets
	Routes   routes.Map
	Duration time.Duration
}

// Failed reports whether the build produced errors.
func (r *Result) Failed() bool {
	return r.Buckets.HasErrors()
}

// Stats accumulates counters across builds.
type Stats struct {
	Builds      int
	ColdBuilds  int
	Emitted     int
	LastEmitted int
	Parsed      int
	Reused      int
	Resources   int
}
