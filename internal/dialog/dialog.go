// Package dialog implements the edit dialogs of the console.
//
// A dialog seeds local state from a snapshot of an authoritative resource, lets
// the user edit it, dispatches a mutation through a gateway and reflects the
// result back into the dialog: on success a refresh of the resource is requested
// and the dialog closes, on failure an inline error is shown and the edits are kept.
package dialog

import (
	"context"

	sw "github.com/filanov/stateswitch"
	"github.com/google/uuid"
	"github.com/metal-toolbox/vmconsole/internal/gateway"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/metal-toolbox/vmconsole/internal/store"
	"github.com/metal-toolbox/vmconsole/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	pkgName = "internal/dialog"

	// dialog states
	StateClosed     sw.State = "closed"
	StateOpen       sw.State = "open"
	StateSubmitting sw.State = "submitting"

	// dialog transitions
	TransitionOpen            sw.TransitionType = "open"
	TransitionClose           sw.TransitionType = "close"
	TransitionSubmit          sw.TransitionType = "submit"
	TransitionSubmitSucceeded sw.TransitionType = "submitSucceeded"
	TransitionSubmitFailed    sw.TransitionType = "submitFailed"
)

// Kind identifies a dialog type.
type Kind string

const (
	KindDelete      Kind = "delete"
	KindDiskEdit    Kind = "disk-edit"
	KindNetworkEdit Kind = "network-edit"
	KindBootOrder   Kind = "boot-order"
)

// Error summaries displayed when a submission fails.
const (
	SummaryDelete    = "VM failed to be deleted"
	SummaryDiskEdit  = "Disk settings failed to be saved"
	SummaryNetwork   = "Network settings failed to be saved"
	SummaryBootOrder = "Boot order settings failed to be saved"
)

// Outcome is the result of a submission.
type Outcome string

const (
	// OutcomeSaved is returned when the backend accepted the mutation.
	OutcomeSaved Outcome = "saved"
	// OutcomeFailed is returned when the backend rejected the mutation or was unreachable.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped is returned for a submission while another one is in flight or the dialog is closed.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeInvalid is returned when the pending edits did not pass local validation.
	OutcomeInvalid Outcome = "invalid"
	// OutcomeUnchanged is returned when there was nothing to submit, the dialog is closed.
	OutcomeUnchanged Outcome = "unchanged"
)

var (
	ErrNotEditable   = errors.New("dialog is not editable")
	ErrResourceKind  = errors.New("dialog does not apply to resource kind")
	ErrUnknownField  = errors.New("unknown field")
	ErrUnknownDevice = errors.New("unknown device")
	ErrTransition    = errors.New("error in dialog transition")
)

// RefreshRequester accepts fire and forget requests to reload a resource from the backend.
type RefreshRequester interface {
	Request(connection string, id uuid.UUID)
}

// Deps are the collaborators shared by the dialogs.
type Deps struct {
	// Repository holds the snapshots dialogs are seeded from.
	Repository store.Repository
	// Gateway dispatches mutations.
	Gateway gateway.Gateway
	// Refresher is notified after a successful mutation.
	Refresher RefreshRequester
	Logger    *logrus.Logger
}

// ValidationError is returned for malformed local input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// domain is the dialog type specific behaviour driven by the Controller.
//
// Methods are invoked with the controller lock held.
type domain interface {
	kind() Kind
	resourceKind() model.ResourceKind
	summary() string
	// seed replaces the local state with one derived from the snapshot.
	seed(res *model.Resource) error
	setField(key string, value any) error
	// payload returns the mutation to submit, a nil payload means nothing to submit.
	payload() (types.Payload, error)
	// notices returns the informational notices for the current local state.
	notices(res *model.Resource) []model.Notice
	// discard drops the local state.
	discard()
}

// transitionArgs are passed to the state machine transition handlers.
type transitionArgs struct {
	ctx      context.Context
	resource *model.Resource
	err      error
}

// stateSwitch holds the current dialog state for the state machine.
type stateSwitch struct {
	state sw.State
}

func (s *stateSwitch) State() sw.State {
	return s.state
}

func (s *stateSwitch) SetState(state sw.State) error {
	s.state = state
	return nil
}

// transitionHandler defines the stateswitch methods invoked on dialog transitions.
type transitionHandler interface {
	seed(sw sw.StateSwitch, args sw.TransitionArgs) error
	discard(sw sw.StateSwitch, args sw.TransitionArgs) error
	failed(sw sw.StateSwitch, args sw.TransitionArgs) error
}

func transitionRules(h transitionHandler) []sw.TransitionRule {
	return []sw.TransitionRule{
		{
			TransitionType:   TransitionOpen,
			SourceStates:     sw.States{StateClosed, StateOpen, StateSubmitting},
			DestinationState: StateOpen,
			Transition:       h.seed,
			Documentation: sw.TransitionRuleDoc{
				Name:        "Open",
				Description: "Seed the dialog from a fresh snapshot of the resource, opening an open dialog seeds it again.",
			},
		},
		{
			TransitionType:   TransitionClose,
			SourceStates:     sw.States{StateOpen, StateSubmitting},
			DestinationState: StateClosed,
			Transition:       h.discard,
			Documentation: sw.TransitionRuleDoc{
				Name:        "Close",
				Description: "Discard the pending edits and error, an in flight submission is not cancelled.",
			},
		},
		{
			TransitionType:   TransitionSubmit,
			SourceStates:     sw.States{StateOpen},
			DestinationState: StateSubmitting,
			Documentation: sw.TransitionRuleDoc{
				Name:        "Submit",
				Description: "Dispatch the mutation to the gateway, edits are suspended until it settles.",
			},
		},
		{
			TransitionType:   TransitionSubmitSucceeded,
			SourceStates:     sw.States{StateSubmitting},
			DestinationState: StateClosed,
			Transition:       h.discard,
			Documentation: sw.TransitionRuleDoc{
				Name:        "Submit succeeded",
				Description: "The backend accepted the mutation, a refresh of the resource was requested.",
			},
		},
		{
			TransitionType:   TransitionSubmitFailed,
			SourceStates:     sw.States{StateSubmitting},
			DestinationState: StateOpen,
			Transition:       h.failed,
			Documentation: sw.TransitionRuleDoc{
				Name:        "Submit failed",
				Description: "The backend rejected the mutation, the error is shown and the pending edits are kept.",
			},
		},
	}
}

var (
	stateDocs = []sw.StateDoc{
		{Name: string(StateClosed), Description: "The dialog is not visible and holds no local state."},
		{Name: string(StateOpen), Description: "The dialog is visible and accepts edits."},
		{Name: string(StateSubmitting), Description: "A mutation is in flight, edits and further submissions are ignored."},
	}

	transitionDocs = []sw.TransitionTypeDoc{
		{Name: string(TransitionOpen), Description: "The user opened the dialog."},
		{Name: string(TransitionClose), Description: "The user cancelled or dismissed the dialog."},
		{Name: string(TransitionSubmit), Description: "The user confirmed the dialog."},
		{Name: string(TransitionSubmitSucceeded), Description: "The gateway acknowledged the mutation."},
		{Name: string(TransitionSubmitFailed), Description: "The gateway returned an error."},
	}
)

func newStateMachine(h transitionHandler) sw.StateMachine {
	sm := sw.NewStateMachine()

	for _, rule := range transitionRules(h) {
		sm.AddTransition(rule)
	}

	for _, doc := range stateDocs {
		sm.DescribeState(sw.State(doc.Name), doc)
	}

	for _, doc := range transitionDocs {
		sm.DescribeTransitionType(sw.TransitionType(doc.Name), doc)
	}

	return sm
}

// nopHandler is used to describe the state machine without a dialog.
type nopHandler struct{}

func (nopHandler) seed(sw.StateSwitch, sw.TransitionArgs) error    { return nil }
func (nopHandler) discard(sw.StateSwitch, sw.TransitionArgs) error { return nil }
func (nopHandler) failed(sw.StateSwitch, sw.TransitionArgs) error  { return nil }

// DescribeAsJSON returns a JSON output describing the dialog statemachine.
func DescribeAsJSON() ([]byte, error) {
	return newStateMachine(nopHandler{}).AsJSON()
}
