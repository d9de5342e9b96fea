package syncengine

// Decision is the detector's verdict for an incoming operation.
type Decision string

const (
	// DecisionApply: the client had the latest state; apply directly.
	DecisionApply Decision = "apply"

	// DecisionNoop: nothing to do (e.g., delete of a resource the server
	// never saw and the client never confirmed); mark applied without a
	// store change.
	DecisionNoop Decision = "noop"

	// DecisionConflict: divergence detected; route to resolution.
	DecisionConflict Decision = "conflict"
)

// Outcome carries the detector's classification of one operation against the
// current resource state.
type Outcome struct {
	Decision Decision

	// ConflictType is set when Decision == DecisionConflict.
	ConflictType ConflictType

	// ForceManual requires human review regardless of the operation's
	// requested strategy. Set when the client claims a version ahead of the
	// server, which signals an out-of-band reset or a client bug.
	ForceManual bool
}

// Detector classifies incoming operations against current resource versions.
// Classification is pure computation; the caller supplies the current state.
type Detector struct{}

// NewDetector constructs a Detector.
func NewDetector() *Detector { return &Detector{} }

// Classify decides whether op can apply cleanly against current, which is nil
// when the resource has never existed server-side.
func (d *Detector) Classify(op *Operation, current *ResourceVersion) Outcome {
	if current == nil {
		return d.classifyAbsent(op)
	}

	switch {
	case op.ClientVersion == current.Version:
		// Client had the latest state. A requested manual strategy does not
		// suppress clean applies; it only matters once a genuine conflict
		// exists.
		return Outcome{Decision: DecisionApply}

	case op.ClientVersion > current.Version:
		// Client is ahead of the server.
		return Outcome{
			Decision:     DecisionConflict,
			ConflictType: ConflictVersionMismatch,
			ForceManual:  true,
		}
	}

	// op.ClientVersion < current.Version: the server moved on since the
	// client last saw this resource.
	switch {
	case current.Deleted && op.Type != OpDelete:
		return Outcome{Decision: DecisionConflict, ConflictType: ConflictDeleteUpdateRace}
	case !current.Deleted && op.Type == OpDelete:
		return Outcome{Decision: DecisionConflict, ConflictType: ConflictDeleteUpdateRace}
	case current.Deleted && op.Type == OpDelete:
		// Both sides deleted; the intent already holds.
		return Outcome{Decision: DecisionNoop}
	default:
		return Outcome{Decision: DecisionConflict, ConflictType: ConflictVersionMismatch}
	}
}

func (d *Detector) classifyAbsent(op *Operation) Outcome {
	if op.Type == OpCreate {
		return Outcome{Decision: DecisionApply}
	}

	// Non-create against an unknown resource. If the client believed a
	// version existed, the server-side history is gone and the divergence
	// needs a human decision. If the client never saw a version either, the
	// create simply never reached us and there is nothing to mutate.
	if op.ClientVersion > 0 {
		return Outcome{Decision: DecisionConflict, ConflictType: ConflictConcurrentDelete}
	}
	return Outcome{Decision: DecisionNoop}
}
