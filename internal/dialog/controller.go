package dialog

import (
	"context"
	"sync"
	"time"

	sw "github.com/filanov/stateswitch"
	"github.com/google/uuid"
	"github.com/metal-toolbox/vmconsole/internal/gateway"
	"github.com/metal-toolbox/vmconsole/internal/metrics"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/metal-toolbox/vmconsole/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Controller drives the lifecycle of a dialog bound to a single resource.
//
// All state is guarded by one mutex, the gateway call is made without holding it.
type Controller struct {
	ref    model.ResourceRef
	domain domain
	deps   Deps
	logger *logrus.Entry
	sm     sw.StateMachine

	mu sync.Mutex
	st *stateSwitch
	// generation is bumped on each open and close, a settling submission
	// started in an older generation does not touch the dialog.
	generation uint64
	instanceID uuid.UUID
	resource   *model.Resource
	dialogErr  *model.DialogError
}

// submission is a mutation dispatched by a dialog generation.
type submission struct {
	generation uint64
	instanceID uuid.UUID
	ref        model.ResourceRef
	payload    types.Payload
	startTS    time.Time
}

func newController(ref model.ResourceRef, d domain, deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}

	c := &Controller{
		ref:    ref,
		domain: d,
		deps:   deps,
		st:     &stateSwitch{state: StateClosed},
		logger: deps.Logger.WithFields(logrus.Fields{
			"dialog":     string(d.kind()),
			"resourceID": ref.ID.String(),
			"connection": ref.ConnectionName,
		}),
	}

	c.sm = newStateMachine(c)

	return c
}

// Kind returns the dialog type.
func (c *Controller) Kind() Kind {
	return c.domain.kind()
}

// Ref returns the address of the resource the dialog is bound to.
func (c *Controller) Ref() model.ResourceRef {
	return c.ref
}

// Open seeds the dialog from a fresh snapshot of the resource and makes it visible.
//
// Opening an open dialog seeds it again, a submission in flight is left to settle
// without affecting the new instance.
func (c *Controller) Open(ctx context.Context) error {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "Controller.Open", c.spanAttributes())
	defer span.End()

	res, err := c.deps.Repository.ResourceByID(ctx, c.ref.ID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if res.ConnectionName != c.ref.ConnectionName {
		return errors.Wrapf(model.ErrResourceNotFound, "%s on connection %s", c.ref.ID, c.ref.ConnectionName)
	}

	if res.Kind != c.domain.resourceKind() {
		return errors.Wrapf(ErrResourceKind, "%s dialog, resource %s is a %s", c.domain.kind(), res.Name, res.Kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.run(TransitionOpen, &transitionArgs{ctx: ctx, resource: res}); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	metrics.DialogOpenCounter.WithLabelValues(string(c.domain.kind())).Inc()

	c.logger.WithField("instanceID", c.instanceID.String()).Debug("dialog opened")

	return nil
}

// Close hides the dialog and discards the pending edits and error.
//
// Closing a closed dialog is a no-op, a submission in flight is not cancelled.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st.State() == StateClosed {
		return
	}

	if err := c.run(TransitionClose, &transitionArgs{}); err != nil {
		c.logger.WithError(err).Warn("dialog close")
		return
	}

	c.logger.Debug("dialog closed")
}

// SetField updates a pending field value.
func (c *Controller) SetField(key string, value any) error {
	return c.edit(func() error { return c.domain.setField(key, value) })
}

// edit applies fn to the domain while the dialog accepts edits.
func (c *Controller) edit(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st.State() != StateOpen {
		return errors.Wrap(ErrNotEditable, string(c.st.State()))
	}

	return fn()
}

// read invokes fn with the lock held when the dialog is visible.
func (c *Controller) read(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st.State() == StateClosed {
		return
	}

	fn()
}

// Submit dispatches the pending edits and waits for the gateway to settle.
//
// Errors are never returned, they are reflected in the Outcome and the dialog error.
func (c *Controller) Submit(ctx context.Context) Outcome {
	sub, outcome := c.begin()
	if sub == nil {
		return outcome
	}

	return c.settle(ctx, sub)
}

// SubmitAsync is Submit for event loops, the in flight guard is taken before it returns.
//
// The returned channel receives the outcome once the submission settled.
func (c *Controller) SubmitAsync(ctx context.Context) <-chan Outcome {
	ch := make(chan Outcome, 1)

	sub, outcome := c.begin()
	if sub == nil {
		ch <- outcome
		close(ch)

		return ch
	}

	go func() {
		defer close(ch)
		ch <- c.settle(ctx, sub)
	}()

	return ch
}

// begin builds the payload and moves the dialog to submitting,
// a nil submission is returned when nothing is to be dispatched.
func (c *Controller) begin() (*submission, Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	le := c.logger.WithField("instanceID", c.instanceID.String())

	if c.st.State() != StateOpen {
		le.WithField("state", c.st.State()).Debug("submit skipped")
		return nil, c.observe(OutcomeSkipped, time.Now())
	}

	payload, err := c.domain.payload()
	if err != nil {
		c.dialogErr = &model.DialogError{Summary: c.domain.summary(), Detail: err.Error()}

		le.WithError(err).Debug("submit invalid")

		return nil, c.observe(OutcomeInvalid, time.Now())
	}

	if payload == nil {
		if err := c.run(TransitionClose, &transitionArgs{}); err != nil {
			le.WithError(err).Warn("dialog close")
		}

		le.Debug("nothing to submit, dialog closed")

		return nil, c.observe(OutcomeUnchanged, time.Now())
	}

	// a retry clears the previous error
	c.dialogErr = nil

	if err := c.run(TransitionSubmit, &transitionArgs{}); err != nil {
		le.WithError(err).Warn("dialog submit")
		return nil, c.observe(OutcomeSkipped, time.Now())
	}

	return &submission{
		generation: c.generation,
		instanceID: c.instanceID,
		ref:        c.ref,
		payload:    payload,
		startTS:    time.Now(),
	}, ""
}

func (c *Controller) settle(ctx context.Context, sub *submission) Outcome {
	ctx, span := otel.Tracer(pkgName).Start(
		ctx,
		"Controller.Submit",
		c.spanAttributes(),
		trace.WithAttributes(attribute.String("payloadKind", string(sub.payload.Kind()))),
	)
	defer span.End()

	le := c.logger.WithFields(logrus.Fields{
		"instanceID":  sub.instanceID.String(),
		"payloadKind": string(sub.payload.Kind()),
	})

	le.Debug("submitting")

	err := c.deps.Gateway.Mutate(ctx, sub.ref, sub.payload)
	if err == nil {
		// the refresh is requested even when the dialog was closed meanwhile
		c.deps.Refresher.Request(sub.ref.ConnectionName, sub.ref.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	outcome := OutcomeSaved
	if err != nil {
		outcome = OutcomeFailed

		span.SetStatus(codes.Error, err.Error())
		le.WithError(err).Info("submission rejected")
	}

	if sub.generation != c.generation {
		le.WithField("outcome", outcome).Debug("dialog closed or reopened during submission, result discarded")
		return c.observe(outcome, sub.startTS)
	}

	if err != nil {
		if rerr := c.run(TransitionSubmitFailed, &transitionArgs{ctx: ctx, err: err}); rerr != nil {
			le.WithError(rerr).Warn("dialog submit failed")
		}

		return c.observe(outcome, sub.startTS)
	}

	if rerr := c.run(TransitionSubmitSucceeded, &transitionArgs{ctx: ctx}); rerr != nil {
		le.WithError(rerr).Warn("dialog submit succeeded")
	}

	le.Info("submission saved")

	return c.observe(outcome, sub.startTS)
}

func (c *Controller) observe(outcome Outcome, startTS time.Time) Outcome {
	metrics.DialogSubmitCounter.WithLabelValues(string(c.domain.kind()), string(outcome)).Inc()
	metrics.DialogSubmitRunTimeSummary.WithLabelValues(string(c.domain.kind()), string(outcome)).
		Observe(time.Since(startTS).Seconds())

	return outcome
}

// DismissError clears the dialog error, the pending edits are kept.
func (c *Controller) DismissError() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dialogErr = nil
}

// State returns the current dialog state.
func (c *Controller) State() sw.State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.st.State()
}

// Visible returns true while the dialog is open or submitting.
func (c *Controller) Visible() bool {
	return c.State() != StateClosed
}

// InFlight returns true while a submission awaits the gateway.
func (c *Controller) InFlight() bool {
	return c.State() == StateSubmitting
}

// Error returns a copy of the dialog error, nil when none is displayed.
func (c *Controller) Error() *model.DialogError {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dialogErr == nil {
		return nil
	}

	derr := *c.dialogErr

	return &derr
}

// Notices returns the informational notices for the current pending edits.
func (c *Controller) Notices() []model.Notice {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st.State() == StateClosed {
		return nil
	}

	return c.domain.notices(c.resource)
}

// Resource returns a copy of the snapshot the dialog was seeded from, nil while closed.
func (c *Controller) Resource() *model.Resource {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resource == nil {
		return nil
	}

	return c.resource.MustClone()
}

// run executes a state machine transition, the lock must be held.
func (c *Controller) run(tt sw.TransitionType, args *transitionArgs) error {
	if err := c.sm.Run(tt, c.st, args); err != nil {
		if errors.Is(err, sw.NoConditionPassedToRunTransaction) || errors.Is(err, sw.NoMatchForTransitionType) {
			return errors.Wrapf(ErrTransition, "%s not allowed in state %s", tt, c.st.State())
		}

		// handler errors are returned as is
		return errors.WithMessage(err, string(tt))
	}

	return nil
}

func (c *Controller) spanAttributes() trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("dialog", string(c.domain.kind())),
		attribute.String("resourceID", c.ref.ID.String()),
		attribute.String("connection", c.ref.ConnectionName),
	)
}

// seed is the open transition handler.
func (c *Controller) seed(_ sw.StateSwitch, args sw.TransitionArgs) error {
	targs, ok := args.(*transitionArgs)
	if !ok || targs.resource == nil {
		return errors.Wrap(ErrTransition, "open requires a resource")
	}

	if err := c.domain.seed(targs.resource); err != nil {
		return err
	}

	c.generation++
	c.instanceID = uuid.New()
	c.resource = targs.resource
	c.dialogErr = nil

	return nil
}

// discard is the handler for transitions closing the dialog.
func (c *Controller) discard(_ sw.StateSwitch, _ sw.TransitionArgs) error {
	c.generation++
	c.resource = nil
	c.dialogErr = nil
	c.domain.discard()

	return nil
}

// failed is the submitFailed transition handler.
func (c *Controller) failed(_ sw.StateSwitch, args sw.TransitionArgs) error {
	targs, ok := args.(*transitionArgs)
	if !ok || targs.err == nil {
		return errors.Wrap(ErrTransition, "submitFailed requires an error")
	}

	c.dialogErr = &model.DialogError{Summary: c.domain.summary(), Detail: gateway.Message(targs.err)}

	return nil
}
