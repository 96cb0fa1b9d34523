package engine

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flowmesh/flowmesh/coord"
)

// Recorder is flowmesh's structured-logging hook for per-replica
// lifecycle events, grounded on the teacher's pipe.go Log/LogStore
// pair. The teacher's LogStore additionally supports a distributed
// Join/Write/Leave protocol so a cluster can replay dropped work via
// InjectionCallback; flowmesh's engine has no cluster-membership
// concept of its own (placement is static, computed once by
// scheduler.Place, not renegotiated at runtime — see DESIGN.md's Open
// Question decision), so Recorder keeps only the part of that shape
// that still applies here: one structured log line per notable event,
// tagged with the replica's Coord the way every Log carried an OwnerID/
// StreamID/VertexID.
type Recorder struct {
	log *logrus.Logger
}

// NewRecorder constructs a Recorder writing through log.
func NewRecorder(log *logrus.Logger) *Recorder {
	return &Recorder{log: log}
}

// Started records a replica beginning to run.
func (r *Recorder) Started(self coord.Coord, blockTitle string) {
	r.log.WithFields(logrus.Fields{
		"coord": self.String(),
		"block": blockTitle,
		"when":  eventTime(),
	}).Info("replica started")
}

// Error records an operator-level failure (typically a recovered panic
// routed through operator.Instrument's recovered callback, spec section
// 7's UserCode/Logic error kinds).
func (r *Recorder) Error(self coord.Coord, blockTitle string, err error) {
	r.log.WithFields(logrus.Fields{
		"coord": self.String(),
		"block": blockTitle,
		"when":  eventTime(),
	}).WithError(err).Error("replica operator error")
}

// Ended records a replica reaching its own End/Terminate.
func (r *Recorder) Ended(self coord.Coord, blockTitle string) {
	r.log.WithFields(logrus.Fields{
		"coord": self.String(),
		"block": blockTitle,
		"when":  eventTime(),
	}).Info("replica ended")
}

// eventTime exists only so every Recorder call site reads the same way;
// it is not a substitute for event-time timestamps carried on
// StreamElements, which come from upstream data, not wall-clock time.
func eventTime() time.Time { return time.Now() }
