package provider

import (
	"errors"
	"testing"
)

func TestRetryableKinds(t *testing.T) {
	cases := []struct {
		kind      ErrorKind
		retryable bool
	}{
		{KindConnection, true},
		{KindTimeout, true},
		{KindECONNREFUSED, true},
		{KindETIMEDOUT, true},
		{KindFetchFailed, true},
		{KindHTTPStatus, false},
		{KindInvalidPayload, false},
		{KindUnknown, false},
	}
	for _, c := range cases {
		e := NewError("chat", c.kind, 0, "boom", nil)
		if e.Retryable() != c.retryable {
			t.Errorf("kind %s: expected retryable=%v, got %v", c.kind, c.retryable, e.Retryable())
		}
	}
}

func TestAsErrorUnwraps(t *testing.T) {
	base := NewError("chat", KindTimeout, 0, "timed out", nil)
	wrapped := errors.New("context: " + base.Error())
	if _, ok := AsError(wrapped); ok {
		t.Fatalf("expected plain errors.New to not unwrap into provider.Error")
	}

	pe, ok := AsError(base)
	if !ok || pe.Kind != KindTimeout {
		t.Fatalf("expected to extract provider.Error with KindTimeout")
	}
}
