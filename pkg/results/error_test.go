package results

import (
	"errors"
	"fmt"
	"testing"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

func TestError(t *testing.T) {
	base := errors.New("failure")
	if actual, expected := FullReason(base), "unknown"; actual != expected {
		t.Errorf("got incorrect reason for base error; expected %s, got %v", expected, actual)
	}
	initial := ForReason("oops").WithError(base).Errorf("couldn't do it")
	if actual, expected := FullReason(initial), "oops"; actual != expected {
		t.Errorf("got incorrect reason for initial error; expected %s, got %v", expected, actual)
	}
	second := ForReason("whoopsie").WithError(initial).Errorf("couldn't do it")
	if actual, expected := FullReason(second), "whoopsie:oops"; actual != expected {
		t.Errorf("got incorrect reason for second error; expected %s, got %v", expected, actual)
	}

	simple := ForReason("simple").ForError(base)
	if actual, expected := FullReason(simple), "simple"; actual != expected {
		t.Errorf("got incorrect reason for simple error; expected %s, got %v", expected, actual)
	}
	if simple.Error() != "failure" {
		t.Errorf("expected simple error to keep the message of its child, got %q", simple.Error())
	}

	none := ForReason("fake").ForError(nil)
	if none != nil {
		t.Errorf("expected a wrapped nil error to be nil, got %v", none)
	}

	alsoNone := DefaultReason(nil)
	if alsoNone != nil {
		t.Errorf("expected a wrapped nil error to be nil, got %v", alsoNone)
	}
	withDefault := DefaultReason(base)
	if actual, expected := FullReason(withDefault), "unknown"; actual != expected {
		t.Errorf("got incorrect reason for defaulted error; expected %s, got %v", expected, actual)
	}
	unchanged := DefaultReason(initial)
	if actual, expected := FullReason(unchanged), "oops"; actual != expected {
		t.Errorf("got incorrect reason for unchanged error; expected %s, got %v", expected, actual)
	}

	agg := utilerrors.NewAggregate([]error{initial, simple})
	if actual, expected := FullReason(agg), "oops,simple"; actual != expected {
		t.Errorf("got incorrect reason for aggregate error; expected %s, got %v", expected, actual)
	}
}

func TestReasonFor(t *testing.T) {
	transient := ForReason(ReasonTransientRemote).WithError(errors.New("503")).Errorf("polling job")
	testCases := []struct {
		name     string
		err      error
		expected Reason
	}{
		{name: "nil", err: nil, expected: ReasonUnknown},
		{name: "plain", err: errors.New("plain"), expected: ReasonUnknown},
		{name: "tagged", err: transient, expected: ReasonTransientRemote},
		{name: "wrapped with fmt", err: fmt.Errorf("outer: %w", transient), expected: ReasonTransientRemote},
		{name: "outermost wins", err: ForReason(ReasonLedger).WithError(transient).Errorf("load"), expected: ReasonLedger},
		{name: "no child", err: ForReason(ReasonLocalIO).Errorf("missing %s", "dir"), expected: ReasonLocalIO},
		{name: "aggregate", err: utilerrors.NewAggregate([]error{errors.New("plain"), transient}), expected: ReasonTransientRemote},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if actual := ReasonFor(tc.err); actual != tc.expected {
				t.Errorf("expected %s, got %s", tc.expected, actual)
			}
		})
	}
	if !HasReason(transient, ReasonTransientRemote) {
		t.Error("expected HasReason to match")
	}
	if HasReason(nil, ReasonUnknown) {
		t.Error("expected nil error to have no reason")
	}
	if actual, expected := transient.Error(), "polling job: 503"; actual != expected {
		t.Errorf("expected message %q, got %q", expected, actual)
	}
}
