package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/hark/internal/dispatch"
	"github.com/MrWong99/hark/internal/intent"
	"github.com/MrWong99/hark/pkg/provider/contacts"
	contactsmock "github.com/MrWong99/hark/pkg/provider/contacts/mock"
	"github.com/MrWong99/hark/pkg/provider/telephony"
	telmock "github.com/MrWong99/hark/pkg/provider/telephony/mock"
)

type fakeCamera struct {
	err   error
	calls int
}

func (c *fakeCamera) OpenCamera(context.Context) error {
	c.calls++
	return c.err
}

var _ dispatch.CameraLauncher = (*fakeCamera)(nil)

func book() *contactsmock.Provider {
	return &contactsmock.Provider{Contacts: []contacts.Contact{
		{Name: "John Smith", PhoneNumber: "+15550100"},
		{Name: "Mom", PhoneNumber: "+15550199"},
	}}
}

func call(name string) intent.Resolved {
	return intent.Resolved{
		Name:         intent.CallContact,
		Parameters:   map[string]string{intent.ParamContact: name},
		RawQueryText: "call " + name,
	}
}

func TestDispatch_Table(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		in         intent.Resolved
		camera     *fakeCamera
		phone      *telmock.Provider
		wantSpoken string
		wantEffect dispatch.EffectKind
		wantErr    dispatch.ActionErrorKind
		wantCalls  []telmock.PlaceCallCall
	}{
		{
			name:       "open camera",
			in:         intent.Resolved{Name: intent.OpenCamera},
			camera:     &fakeCamera{},
			wantSpoken: "Opening camera.",
			wantEffect: dispatch.EffectLaunchExternalApp,
			wantErr:    -1,
		},
		{
			name:       "camera fails",
			in:         intent.Resolved{Name: intent.OpenCamera},
			camera:     &fakeCamera{err: errors.New("no camera app")},
			wantSpoken: "Sorry, I couldn't open the camera.",
			wantEffect: dispatch.EffectNone,
			wantErr:    dispatch.LaunchFailed,
		},
		{
			name:       "call single account",
			in:         call("john"),
			phone:      &telmock.Provider{Accounts: []telephony.Account{{ID: "sim1"}}},
			wantSpoken: "Calling john.",
			wantEffect: dispatch.EffectPlaceCall,
			wantErr:    -1,
			wantCalls:  []telmock.PlaceCallCall{{Number: "+15550100"}},
		},
		{
			name:       "call dual sim uses slot 0",
			in:         call("mom"),
			phone:      &telmock.Provider{Accounts: []telephony.Account{{ID: "sim1"}, {ID: "sim2"}}},
			wantSpoken: "Calling mom.",
			wantEffect: dispatch.EffectPlaceCall,
			wantErr:    -1,
			wantCalls:  []telmock.PlaceCallCall{{Number: "+15550199", Hint: &telephony.AccountHint{Slot: 0}}},
		},
		{
			name:       "contact not found",
			in:         call("alice"),
			phone:      &telmock.Provider{},
			wantSpoken: "Contact alice not found.",
			wantEffect: dispatch.EffectNone,
			wantErr:    dispatch.LookupMiss,
		},
		{
			name:       "empty contact",
			in:         call(""),
			phone:      &telmock.Provider{},
			wantSpoken: "Contact not found.",
			wantEffect: dispatch.EffectNone,
			wantErr:    dispatch.LookupMiss,
		},
		{
			name:       "phone state permission missing",
			in:         call("john"),
			phone:      &telmock.Provider{AccountsErr: fmt.Errorf("accounts: %w", telephony.ErrPermissionDenied)},
			wantSpoken: "Permission to read phone state is required to make calls.",
			wantEffect: dispatch.EffectNone,
			wantErr:    dispatch.PermissionMissing,
		},
		{
			name: "call permission missing",
			in:   call("john"),
			phone: &telmock.Provider{
				Accounts:     []telephony.Account{{ID: "sim1"}},
				PlaceCallErr: telephony.ErrPermissionDenied,
			},
			wantSpoken: "Permission to read phone state is required to make calls.",
			wantEffect: dispatch.EffectNone,
			wantErr:    dispatch.PermissionMissing,
			wantCalls:  []telmock.PlaceCallCall{{Number: "+15550100"}},
		},
		{
			name: "call fails",
			in:   call("john"),
			phone: &telmock.Provider{
				Accounts:     []telephony.Account{{ID: "sim1"}},
				PlaceCallErr: errors.New("modem offline"),
			},
			wantSpoken: "Sorry, I couldn't call john.",
			wantEffect: dispatch.EffectNone,
			wantErr:    dispatch.CallFailed,
			wantCalls:  []telmock.PlaceCallCall{{Number: "+15550100"}},
		},
		{
			name:       "stop",
			in:         intent.Resolved{Name: intent.StopAssistant},
			wantSpoken: "Goodbye!",
			wantEffect: dispatch.EffectStopService,
			wantErr:    -1,
		},
		{
			name:       "unknown intent",
			in:         intent.Resolved{Name: intent.Unrecognized, RawName: "WeatherIntent", RawQueryText: "what's the weather"},
			wantSpoken: "I heard you say what's the weather, but I'm not sure how to handle that.",
			wantEffect: dispatch.EffectNone,
			wantErr:    -1,
		},
		{
			name:       "undefined name value",
			in:         intent.Resolved{Name: intent.Name(42), RawQueryText: "hm"},
			wantSpoken: "I heard you say hm, but I'm not sure how to handle that.",
			wantEffect: dispatch.EffectNone,
			wantErr:    -1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if tt.camera == nil {
				tt.camera = &fakeCamera{}
			}
			if tt.phone == nil {
				tt.phone = &telmock.Provider{}
			}
			d := dispatch.New(book(), tt.phone, tt.camera)
			got := d.Dispatch(context.Background(), tt.in)

			if got.Spoken != tt.wantSpoken {
				t.Errorf("Spoken = %q, want %q", got.Spoken, tt.wantSpoken)
			}
			if got.Effect != tt.wantEffect {
				t.Errorf("Effect = %s, want %s", got.Effect, tt.wantEffect)
			}
			var ae *dispatch.ActionError
			switch {
			case tt.wantErr < 0 && got.Err != nil:
				t.Errorf("Err = %v, want nil", got.Err)
			case tt.wantErr >= 0 && !errors.As(got.Err, &ae):
				t.Errorf("Err = %v, want *ActionError", got.Err)
			case tt.wantErr >= 0 && ae.Kind != tt.wantErr:
				t.Errorf("Err kind = %s, want %s", ae.Kind, tt.wantErr)
			}
			if diff := cmp.Diff(tt.wantCalls, tt.phone.Calls()); diff != "" {
				t.Errorf("PlaceCall mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDispatch_LookupFailure(t *testing.T) {
	t.Parallel()

	storeErr := errors.New("database is locked")
	phone := &telmock.Provider{}
	d := dispatch.New(&contactsmock.Provider{FindErr: storeErr}, phone, &fakeCamera{})
	got := d.Dispatch(context.Background(), call("john"))

	if got.Spoken != "Sorry, I couldn't call john." || got.Effect != dispatch.EffectNone {
		t.Errorf("result = %+v", got)
	}
	if !errors.Is(got.Err, storeErr) {
		t.Errorf("Err = %v, want wrapping %v", got.Err, storeErr)
	}
	if phone.AccountsCallCount != 0 {
		t.Error("telephony consulted after failed lookup")
	}
}

func TestDispatch_EmptyContactSkipsLookup(t *testing.T) {
	t.Parallel()

	b := book()
	d := dispatch.New(b, &telmock.Provider{}, &fakeCamera{})
	d.Dispatch(context.Background(), call("  "))
	if calls := b.Calls(); len(calls) != 0 {
		t.Errorf("contact store queried with %q", calls)
	}
}

func TestActionError(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := error(&dispatch.ActionError{Kind: dispatch.CallFailed, Intent: intent.CallContact, Err: cause})
	if !errors.Is(err, cause) {
		t.Error("ActionError does not unwrap")
	}
	if got, want := err.Error(), "dispatch: CallContactIntent: call-failure: boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
