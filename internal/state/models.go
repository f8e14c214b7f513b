package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"harnesseval/internal/pipeline"
)

// Mode says how the batch selected its targets.
type Mode string

const (
	// ModeMatrix assembles every participant x variant pair from the id list.
	ModeMatrix Mode = "matrix"
	// ModeReexecute compiles and runs already-assembled target directories.
	ModeReexecute Mode = "reexecute"
)

// Status is the batch lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	// StatusFailed means the batch finished and at least one target failed.
	StatusFailed Status = "failed"
)

// Batch is the persisted metadata of one evaluate invocation.
type Batch struct {
	BatchID     string     `json:"batch_id"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	Mode        Mode       `json:"mode"`
	Status      Status     `json:"status"`
	Targets     int        `json:"targets"`
	Failed      int        `json:"failed"`
	JournalHash string     `json:"journal_hash,omitempty"`
}

// NewBatchID returns a random batch identifier.
func NewBatchID() string { return uuid.NewString() }

func (b Batch) Validate() error {
	var errs []error
	if _, err := uuid.Parse(b.BatchID); err != nil {
		errs = append(errs, fmt.Errorf("batch_id %q is not a uuid", b.BatchID))
	}
	if b.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	switch b.Mode {
	case ModeMatrix, ModeReexecute:
	default:
		errs = append(errs, fmt.Errorf("invalid mode %q", b.Mode))
	}
	switch b.Status {
	case StatusRunning:
		if b.EndTime != nil {
			errs = append(errs, errors.New("running batch must not have end_time"))
		}
	case StatusCompleted, StatusFailed:
		if b.EndTime == nil {
			errs = append(errs, errors.New("finished batch requires end_time"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", b.Status))
	}
	if b.Targets < 0 || b.Failed < 0 || b.Failed > b.Targets {
		errs = append(errs, fmt.Errorf("invalid counts targets=%d failed=%d", b.Targets, b.Failed))
	}
	return errors.Join(errs...)
}

// FailureClass groups failure codes by the subsystem that produced them.
type FailureClass string

const (
	FailureClassCheckout  FailureClass = "checkout"
	FailureClassAssembly  FailureClass = "assembly"
	FailureClassBuild     FailureClass = "build"
	FailureClassExecution FailureClass = "execution"
	FailureClassSystem    FailureClass = "system"
)

// Failure is one failed target as persisted in failures.json.
type Failure struct {
	Target       string       `json:"target"`
	Stage        string       `json:"stage"`
	FailureClass FailureClass `json:"failure_class"`
	ErrorCode    string       `json:"error_code"`
	ErrorMessage string       `json:"error_message"`
	OutputPath   *string      `json:"output_path"`

	// Reexecutable is true when the target directory was fully assembled, so
	// "evaluate <dir>" can retry it without assembling again.
	Reexecutable bool `json:"reexecutable"`
}

func (f Failure) Validate() error {
	var errs []error
	if strings.TrimSpace(f.Target) == "" {
		errs = append(errs, errors.New("target is required"))
	}
	switch f.FailureClass {
	case FailureClassCheckout, FailureClassAssembly, FailureClassBuild, FailureClassExecution, FailureClassSystem:
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.FailureClass))
	}
	if strings.TrimSpace(f.ErrorCode) == "" {
		errs = append(errs, errors.New("error_code is required"))
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	if f.OutputPath != nil && strings.TrimSpace(*f.OutputPath) == "" {
		errs = append(errs, errors.New("output_path must not be empty when provided"))
	}
	return errors.Join(errs...)
}

// ClassOf maps a failure code to its class.
func ClassOf(code string) FailureClass {
	switch code {
	case "BranchNotFound", "OtherGitFailure":
		return FailureClassCheckout
	case "CopyFailure", "ConfigPatchNotFound", "CompositeDependencyMissing":
		return FailureClassAssembly
	case "CompileFailure":
		return FailureClassBuild
	case "RuntimeFailure":
		return FailureClassExecution
	default:
		return FailureClassSystem
	}
}

// FailureFromOutcome converts a failed outcome into its persisted form.
func FailureFromOutcome(o pipeline.Outcome) (Failure, error) {
	if !o.Failed() {
		return Failure{}, fmt.Errorf("outcome %s is %s, not failed", o.ID(), o.State)
	}
	code := o.Code
	if code == "" {
		code = "InternalError"
	}
	msg := o.Reason
	if msg == "" {
		msg = code
	}
	f := Failure{
		Target:       o.ID(),
		Stage:        string(o.Stage),
		FailureClass: ClassOf(code),
		ErrorCode:    code,
		ErrorMessage: msg,
		Reexecutable: o.Stage == pipeline.StageCompile || o.Stage == pipeline.StageRun,
	}
	if o.OutputPath != "" {
		p := o.OutputPath
		f.OutputPath = &p
	}
	return f, f.Validate()
}
