package scanerr

import (
	stderrs "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusCodeMapping(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodePermissionDenied, http.StatusForbidden},
		{CodeDeviceNotFound, http.StatusNotFound},
		{CodeDeviceBusy, http.StatusConflict},
		{CodeInvalidStateTransition, http.StatusConflict},
		{CodeConstraintUnsatisfiable, http.StatusUnprocessableEntity},
		{CodeUnsupportedCapability, http.StatusUnprocessableEntity},
		{CodeEnumerationUnsupported, http.StatusNotImplemented},
		{CodeSessionFault, http.StatusServiceUnavailable},
		{CodeDecodeFailure, http.StatusInternalServerError},
		{200, http.StatusInternalServerError}, // default branch
	}
	for _, c := range cases {
		if got := HTTPStatusCode(c.code); got != c.want {
			t.Fatalf("HTTPStatusCode(%v) = %d, want %d", c.code, got, c.want)
		}
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := Busyf("device %q held by session %s", "cam0", "abc")
	if !stderrs.Is(err, ErrDeviceBusy) {
		t.Fatalf("errors.Is(busy, ErrDeviceBusy) = false")
	}
	if stderrs.Is(err, ErrDeviceNotFound) {
		t.Fatalf("busy matched not-found")
	}

	wrapped := fmt.Errorf("start: %w", err)
	if !stderrs.Is(wrapped, ErrDeviceBusy) {
		t.Fatalf("fmt wrapping lost the code")
	}
	if CodeOf(wrapped) != CodeDeviceBusy {
		t.Fatalf("CodeOf = %v", CodeOf(wrapped))
	}
}

func TestWrapKeepsCause(t *testing.T) {
	root := stderrs.New("usb reset")
	err := Wrap(root, CodeSessionFault, "camera stream ended")
	if stderrs.Unwrap(err) != root {
		t.Fatalf("Wrap did not keep orig")
	}
	if want := "camera stream ended: usb reset"; err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}

	withOp := WithOp(err, "session.pump")
	if want := "session.pump: camera stream ended: usb reset"; withOp.Error() != want {
		t.Fatalf("Error() = %q, want %q", withOp.Error(), want)
	}
	if e, _ := As(err); e.Op() != "" {
		t.Fatalf("WithOp mutated the original")
	}
}

func TestNilErrorRender(t *testing.T) {
	var e *Error
	if e.Error() != "<nil>" {
		t.Fatalf("nil *Error render = %q", e.Error())
	}
}

func TestTransient(t *testing.T) {
	if !Transient(Wrap(stderrs.New("bad frame"), CodeDecodeFailure, "decode")) {
		t.Fatalf("decode failure should be transient")
	}
	if Transient(ErrSessionFault) || Transient(nil) {
		t.Fatalf("session fault / nil should not be transient")
	}
}

func TestWireFrom(t *testing.T) {
	if w := WireFrom(nil); w.Code != CodeUnknown || w.Message != "" {
		t.Fatalf("WireFrom(nil) = %+v", w)
	}
	w := WireFrom(fmt.Errorf("api: %w", ErrDeviceNotFound))
	if w.Code != CodeDeviceNotFound || w.Message != "api: device not found" {
		t.Fatalf("WireFrom = %+v", w)
	}
	if w := WireFrom(stderrs.New("plain")); w.Code != CodeUnknown {
		t.Fatalf("foreign error code = %v", w.Code)
	}
}

func TestCodeString(t *testing.T) {
	if CodeDeviceBusy.String() != "DeviceBusy" || Code(99).String() != "Code(99)" {
		t.Fatalf("unexpected code names")
	}
}
