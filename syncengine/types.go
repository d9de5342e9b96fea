// Package syncengine implements an offline synchronization engine with
// conflict detection and resolution. Clients accumulate mutations while
// disconnected and submit them as ordered batches; the engine reconciles
// them against server-held resource state using per-resource optimistic
// version counters.
package syncengine

import (
	"time"
)

// Payload is an opaque JSON-like object. The engine never inspects domain
// fields inside it; it only stores, snapshots, and hands it back.
type Payload map[string]any

// Clone returns a shallow copy of the payload. A nil payload clones to nil.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// OperationType identifies the kind of mutation a client submitted.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// IsValid returns true if the operation type is recognized.
func (t OperationType) IsValid() bool {
	switch t {
	case OpCreate, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

// Strategy is the conflict resolution policy requested for an operation or
// supplied at resolution time.
type Strategy string

const (
	// StrategyClientWins commits the client's payload over the server state.
	StrategyClientWins Strategy = "client_wins"

	// StrategyServerWins discards the client's payload and keeps server state.
	StrategyServerWins Strategy = "server_wins"

	// StrategyMerge commits externally supplied merged data.
	StrategyMerge Strategy = "merge"

	// StrategyManual defers the decision to a human; behaves like merge at
	// resolution time but is never auto-attempted.
	StrategyManual Strategy = "manual"
)

// IsValid returns true if the strategy is recognized.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyClientWins, StrategyServerWins, StrategyMerge, StrategyManual:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a queued operation.
type Status string

const (
	StatusQueued          Status = "queued"
	StatusProcessing      Status = "processing"
	StatusApplied         Status = "applied"
	StatusNeedsResolution Status = "needs_resolution"
	StatusFailed          Status = "failed"
)

// IsTerminal reports whether the status ends the processing lifecycle.
// needs_resolution is not terminal: it awaits an explicit resolution call.
func (s Status) IsTerminal() bool {
	return s == StatusApplied || s == StatusFailed
}

// ConflictType classifies a detected divergence.
type ConflictType string

const (
	// ConflictVersionMismatch: both sides mutated from different base versions.
	ConflictVersionMismatch ConflictType = "version_mismatch"

	// ConflictConcurrentDelete: server deleted the resource after the client
	// last saw it, or the resource is unknown for a non-create operation.
	ConflictConcurrentDelete ConflictType = "concurrent_delete"

	// ConflictDeleteUpdateRace: one side deleted while the other updated.
	ConflictDeleteUpdateRace ConflictType = "delete_update_race"

	// ConflictTypeMismatch: the operation type is incompatible with the
	// current resource state (e.g., create over a live resource).
	ConflictTypeMismatch ConflictType = "type_mismatch"
)

// Operation is a client mutation queued for processing.
type Operation struct {
	ID            string        `json:"operation_id"`
	UserID        string        `json:"user_id"`
	ResourceType  string        `json:"resource_type"`
	ResourceID    string        `json:"resource_id"`
	Type          OperationType `json:"operation_type"`
	Payload       Payload       `json:"payload,omitempty"`
	ClientVersion int64         `json:"client_version"`
	Resolution    Strategy      `json:"conflict_resolution"`
	Status        Status        `json:"status"`
	RetryCount    int           `json:"retry_count"`
	CreatedAt     time.Time     `json:"created_at"`
	ProcessedAt   *time.Time    `json:"processed_at,omitempty"`
}

// Key returns the resource key this operation targets.
func (o *Operation) Key() ResourceKey {
	return ResourceKey{Type: o.ResourceType, ID: o.ResourceID}
}

// ResourceKey identifies a logical resource.
type ResourceKey struct {
	Type string
	ID   string
}

func (k ResourceKey) String() string {
	return k.Type + "/" + k.ID
}

// ResourceVersion is the authoritative server-held state of one resource.
// Version starts at 0 (non-existent) and strictly increases; deleted rows
// are tombstoned, never removed, so later update/delete races are detectable.
type ResourceVersion struct {
	ResourceType   string    `json:"resource_type"`
	ResourceID     string    `json:"resource_id"`
	Version        int64     `json:"version"`
	Data           Payload   `json:"data,omitempty"`
	Deleted        bool      `json:"deleted"`
	LastModifiedBy string    `json:"last_modified_by"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Conflict records a divergence awaiting (or having received) a resolution
// decision. At most one unresolved conflict exists per resource key.
type Conflict struct {
	ID           string       `json:"conflict_id"`
	OperationID  string       `json:"operation_id"`
	UserID       string       `json:"user_id"`
	ResourceType string       `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	Type         ConflictType `json:"conflict_type"`
	ClientData   Payload      `json:"client_data,omitempty"`
	ServerData   Payload      `json:"server_data,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	Resolved     bool         `json:"resolved"`
	Resolution   *Strategy    `json:"resolution,omitempty"`
	MergedData   Payload      `json:"merged_data,omitempty"`
	ResolvedAt   *time.Time   `json:"resolved_at,omitempty"`
}

// DrainResult reports the outcome of processing one user's queue.
type DrainResult struct {
	Processed  int `json:"processed"`
	Applied    int `json:"applied"`
	Conflicted int `json:"conflicted"`
	Failed     int `json:"failed"`
}

// SyncStatus aggregates a user's queue state.
type SyncStatus struct {
	UserID              string         `json:"user_id"`
	Total               int            `json:"total"`
	ByStatus            map[Status]int `json:"by_status"`
	UnresolvedConflicts int            `json:"unresolved_conflicts"`
	LastProcessedAt     *time.Time     `json:"last_processed_at,omitempty"`
}

// ResolutionResult summarizes an applied conflict resolution.
type ResolutionResult struct {
	ConflictID  string   `json:"conflict_id"`
	OperationID string   `json:"operation_id"`
	Strategy    Strategy `json:"strategy"`
	NewVersion  int64    `json:"new_version,omitempty"`
	DataChanged bool     `json:"data_changed"`
}
