// Package progress defines the events emitted while a crawl runs.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart   Stage = "CRAWL_START"
	StageCrawlDone    Stage = "CRAWL_DONE"
	StageCrawlError   Stage = "CRAWL_ERROR"
	StageItemDone     Stage = "ITEM_DONE"
	StageItemRequeued Stage = "ITEM_REQUEUED"
	StageItemDropped  Stage = "ITEM_DROPPED"
	StageRelogin      Stage = "RELOGIN"
	StageWorkerStart  Stage = "WORKER_START"
	StageWorkerCrash  Stage = "WORKER_CRASH"
	StageLevelDone    Stage = "LEVEL_DONE"
	StageCheckpoint   Stage = "CHECKPOINT"
)

// Outcome qualifies ITEM_DONE events.
type Outcome string

// Item outcomes.
const (
	OutcomeProcessed   Outcome = "processed"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeSkipped     Outcome = "skipped"
)

// Event captures a single crawl milestone together with the counters at the
// moment it happened.
type Event struct {
	// RunID identifies one crawl invocation in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// Strategy is the crawl variant (charts, search, related, ...).
	Strategy string
	Worker   string
	// Item is the work item an item-level event refers to.
	Item    string
	Outcome Outcome
	// Found counts ids discovered by this item, including known ones.
	Found int
	// Level, Done, Discovered and Frontier snapshot the shared crawl state.
	Level      int
	Done       int
	Discovered int
	Frontier   int
	Dur        time.Duration
	// Note lets emitters attach low-volume context (error text, checkpoint name).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart, StageCrawlDone, StageCrawlError, StageLevelDone, StageCheckpoint:
	case StageItemDone, StageItemRequeued, StageItemDropped:
		if e.Item == "" {
			return fmt.Errorf("%s requires item", e.Stage)
		}
	case StageRelogin, StageWorkerStart, StageWorkerCrash:
		if e.Worker == "" {
			return fmt.Errorf("%s requires worker", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Done < 0 || e.Discovered < 0 || e.Frontier < 0 || e.Level < 0 || e.Found < 0 {
		return errors.New("counters must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
