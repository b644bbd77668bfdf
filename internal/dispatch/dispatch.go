// Package dispatch maps resolved intents onto side-effecting actions.
//
// Every intent, including ones the assistant does not know, produces an
// [ActionResult]: the sentence to speak and the effect that took place.
// Expected business failures (an unknown contact, a missing telephony
// permission, a camera that will not start) are reported as spoken messages
// with an [ActionError] attached for logging; Dispatch itself never fails.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/hark/internal/intent"
	"github.com/MrWong99/hark/internal/observe"
	"github.com/MrWong99/hark/pkg/provider/contacts"
	"github.com/MrWong99/hark/pkg/provider/telephony"
)

// EffectKind is the observable outcome of an action.
type EffectKind int

const (
	EffectNone EffectKind = iota
	EffectLaunchExternalApp
	EffectPlaceCall
	EffectStopService
)

// String implements fmt.Stringer.
func (e EffectKind) String() string {
	switch e {
	case EffectLaunchExternalApp:
		return "launch_external_app"
	case EffectPlaceCall:
		return "place_call"
	case EffectStopService:
		return "stop_service"
	default:
		return "none"
	}
}

// ActionResult is what the loop needs to know about a dispatched intent.
type ActionResult struct {
	// Spoken is the acknowledgment to read out.
	Spoken string

	Effect EffectKind

	// Err is a *ActionError when the action hit an expected failure.
	Err error
}

// ActionErrorKind classifies action failures.
type ActionErrorKind int

const (
	LookupMiss ActionErrorKind = iota
	PermissionMissing
	LaunchFailed
	LookupFailed
	CallFailed
)

var actionErrorNames = [...]string{
	LookupMiss:        "lookup-miss",
	PermissionMissing: "permission-missing",
	LaunchFailed:      "external-launch-failure",
	LookupFailed:      "lookup-failure",
	CallFailed:        "call-failure",
}

// String implements fmt.Stringer.
func (k ActionErrorKind) String() string {
	if k >= 0 && int(k) < len(actionErrorNames) {
		return actionErrorNames[k]
	}
	return "unknown"
}

// ActionError describes an action that could not be carried out.
type ActionError struct {
	Kind   ActionErrorKind
	Intent intent.Name
	Err    error
}

func (e *ActionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("dispatch: %s: %s", e.Intent, e.Kind)
	}
	return fmt.Sprintf("dispatch: %s: %s: %v", e.Intent, e.Kind, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// CameraLauncher starts the external camera application.
type CameraLauncher interface {
	OpenCamera(ctx context.Context) error
}

// Spoken acknowledgments.
const (
	MsgOpeningCamera     = "Opening camera."
	MsgCameraFailed      = "Sorry, I couldn't open the camera."
	MsgPermissionMissing = "Permission to read phone state is required to make calls."
	MsgGoodbye           = "Goodbye!"
	MsgContactNotFound   = "Contact not found."
)

// MsgCalling returns the acknowledgment for a placed call.
func MsgCalling(name string) string { return fmt.Sprintf("Calling %s.", name) }

// MsgNotFound returns the message for an unknown contact.
func MsgNotFound(name string) string { return fmt.Sprintf("Contact %s not found.", name) }

// MsgCallFailed returns the message for a call that could not be placed.
func MsgCallFailed(name string) string { return fmt.Sprintf("Sorry, I couldn't call %s.", name) }

// MsgUnrecognized returns the default sentence for intents without a handler.
func MsgUnrecognized(query string) string {
	return fmt.Sprintf("I heard you say %s, but I'm not sure how to handle that.", query)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher routes resolved intents to their handlers.
type Dispatcher struct {
	contacts contacts.Provider
	phone    telephony.Provider
	camera   CameraLauncher
	log      *slog.Logger
	metrics  *observe.Metrics
}

// New creates a Dispatcher.
func New(book contacts.Provider, phone telephony.Provider, camera CameraLauncher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		contacts: book,
		phone:    phone,
		camera:   camera,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Dispatch runs the handler for r and reports what happened.
func (d *Dispatcher) Dispatch(ctx context.Context, r intent.Resolved) ActionResult {
	var res ActionResult
	switch r.Name {
	case intent.OpenCamera:
		res = d.openCamera(ctx)
	case intent.CallContact:
		res = d.callContact(ctx, r.Param(intent.ParamContact))
	case intent.StopAssistant:
		res = ActionResult{Spoken: MsgGoodbye, Effect: EffectStopService}
	default:
		res = ActionResult{Spoken: MsgUnrecognized(r.RawQueryText)}
	}

	d.metrics.RecordAction(ctx, r.Name.String(), res.Effect.String())
	if res.Err != nil {
		d.log.Warn("dispatch: action failed", "intent", r.Name.String(), "err", res.Err)
	} else {
		d.log.Info("dispatch: action", "intent", r.Name.String(), "effect", res.Effect.String())
	}
	return res
}

func (d *Dispatcher) openCamera(ctx context.Context) ActionResult {
	if err := d.camera.OpenCamera(ctx); err != nil {
		return ActionResult{
			Spoken: MsgCameraFailed,
			Err:    &ActionError{Kind: LaunchFailed, Intent: intent.OpenCamera, Err: err},
		}
	}
	return ActionResult{Spoken: MsgOpeningCamera, Effect: EffectLaunchExternalApp}
}

func (d *Dispatcher) callContact(ctx context.Context, name string) ActionResult {
	fail := func(kind ActionErrorKind, spoken string, err error) ActionResult {
		return ActionResult{
			Spoken: spoken,
			Err:    &ActionError{Kind: kind, Intent: intent.CallContact, Err: err},
		}
	}

	// An empty pattern would match every contact.
	if name == "" {
		return fail(LookupMiss, MsgContactNotFound, nil)
	}

	c, ok, err := d.contacts.Find(ctx, name)
	if err != nil {
		return fail(LookupFailed, MsgCallFailed(name), err)
	}
	if !ok {
		return fail(LookupMiss, MsgNotFound(name), nil)
	}

	accounts, err := d.phone.CallCapableAccounts(ctx)
	if errors.Is(err, telephony.ErrPermissionDenied) {
		return fail(PermissionMissing, MsgPermissionMissing, err)
	}
	if err != nil {
		return fail(CallFailed, MsgCallFailed(name), err)
	}

	var hint *telephony.AccountHint
	if len(accounts) > 1 {
		hint = &telephony.AccountHint{Slot: 0}
	}
	if err := d.phone.PlaceCall(ctx, c.PhoneNumber, hint); err != nil {
		if errors.Is(err, telephony.ErrPermissionDenied) {
			return fail(PermissionMissing, MsgPermissionMissing, err)
		}
		return fail(CallFailed, MsgCallFailed(name), err)
	}
	return ActionResult{Spoken: MsgCalling(name), Effect: EffectPlaceCall}
}
