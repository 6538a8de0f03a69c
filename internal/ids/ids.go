// Package ids provides strong identifier types and the canonical JSON
// encoding used for content hashing across the kernel. A run's RunID, a
// task's TaskID, and a tool's ID are kept as distinct string types so they
// cannot be mixed accidentally when passed through maps and APIs, following
// the strong-typing convention used throughout the reference runtime this
// kernel is built on.
package ids

import "github.com/google/uuid"

// RunID is the strong type for a run identifier.
type RunID string

// TaskID is the strong type for a task identifier within a DAG or linear
// workflow.
type TaskID string

// ArtifactID is the strong type for any other kernel-generated opaque
// identifier (session IDs, conflict record handles, etc).
type ArtifactID string

// NewRunID generates a new opaque run identifier.
func NewRunID() RunID { return RunID("run_" + uuid.NewString()) }

// NewTaskID generates a new opaque task identifier.
func NewTaskID() TaskID { return TaskID("task_" + uuid.NewString()) }

// NewArtifactID generates a new opaque artifact identifier with the given
// prefix (e.g. "sess", "conflict").
func NewArtifactID(prefix string) ArtifactID { return ArtifactID(prefix + "_" + uuid.NewString()) }
