package installer

import (
	"errors"
	"fmt"
)

var (
	// ErrDependents is returned when uninstalling a formula other installed
	// formulae still depend on.
	ErrDependents = errors.New("required by installed formulae")
	// ErrKegOnly is returned when linking a keg-only formula without force.
	ErrKegOnly = errors.New("formula is keg-only")
)

// Stage is a checkpoint in the per-formula state machine. Stages are not
// persisted; they identify how far an operation got when it failed.
type Stage int

const (
	StageRequested Stage = iota
	StageMetadataFetched
	StageBottleDownloaded
	StageExtracted
	StageRelocated
	StageReceiptWritten
	StageLinked
	StageDone
	// StageDelegated marks work handed to the external package manager.
	StageDelegated
)

var stageNames = map[Stage]string{
	StageRequested:        "requested",
	StageMetadataFetched:  "metadata-fetched",
	StageBottleDownloaded: "bottle-downloaded",
	StageExtracted:        "extracted",
	StageRelocated:        "relocated",
	StageReceiptWritten:   "receipt-written",
	StageLinked:           "linked",
	StageDone:             "done",
	StageDelegated:        "delegated",
}

// stageActions describe the step that moves a formula into each stage.
var stageActions = map[Stage]string{
	StageRequested:        "resolving dependencies",
	StageMetadataFetched:  "fetching metadata",
	StageBottleDownloaded: "downloading bottle",
	StageExtracted:        "extracting bottle",
	StageRelocated:        "relocating",
	StageReceiptWritten:   "writing receipt",
	StageLinked:           "linking",
	StageDone:             "finishing",
	StageDelegated:        "delegating",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Action is the human-readable verb for the step entering s.
func (s Stage) Action() string {
	if a, ok := stageActions[s]; ok {
		return a
	}
	return s.String()
}

// StageError identifies the formula and the stage that failed.
type StageError struct {
	Name  string
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Name, e.Stage.Action(), e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(name string, stage Stage, err error) error {
	return &StageError{Name: name, Stage: stage, Err: err}
}

// FailedStage returns the stage recorded in err, if any.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return 0, false
}

// Outcome is the per-item result of a batch operation.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeInstalled
	OutcomeAlreadyInstalled
	OutcomeUpgraded
	OutcomeUpToDate
	OutcomeReinstalled
	OutcomeDelegated
	OutcomePinned
	OutcomeRemoved
)

var outcomeNames = map[Outcome]string{
	OutcomeFailed:           "failed",
	OutcomeInstalled:        "installed",
	OutcomeAlreadyInstalled: "already-installed",
	OutcomeUpgraded:         "upgraded",
	OutcomeUpToDate:         "up-to-date",
	OutcomeReinstalled:      "reinstalled",
	OutcomeDelegated:        "delegated",
	OutcomePinned:           "pinned",
	OutcomeRemoved:          "removed",
}

func (o Outcome) String() string {
	if n, ok := outcomeNames[o]; ok {
		return n
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MarshalText renders the outcome name in JSON and YAML output.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Backend names the installer backend that handled a formula.
type Backend string

const (
	BackendNative   Backend = "native"
	BackendExternal Backend = "external"
)
