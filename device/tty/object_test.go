package tty

import (
	"errors"
	"testing"

	"github.com/petitstrawberry/scarlet/device/video/console"
	"github.com/petitstrawberry/scarlet/kernel/object"
)

// fakeDevice is a minimal Device used to exercise Handle without a real
// console backing it.
type fakeDevice struct {
	written  []byte
	writeErr error
	state    State
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	if d.writeErr != nil {
		return 0, d.writeErr
	}
	d.written = append(d.written, p...)
	return len(p), nil
}
func (d *fakeDevice) WriteByte(c byte) error {
	_, err := d.Write([]byte{c})
	return err
}
func (d *fakeDevice) AttachTo(console.Device)          {}
func (d *fakeDevice) State() State                     { return d.state }
func (d *fakeDevice) SetState(s State)                 { d.state = s }
func (d *fakeDevice) CursorPosition() (uint16, uint16) { return 1, 1 }
func (d *fakeDevice) SetCursorPosition(x, y uint16)    {}

func TestHandleKindAndClose(t *testing.T) {
	h := NewHandle(&fakeDevice{})

	if h.Kind() != object.KindDevice {
		t.Errorf("Kind() = %v, want KindDevice", h.Kind())
	}
	if err := h.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

func TestHandleWrite(t *testing.T) {
	dev := &fakeDevice{}
	h := NewHandle(dev)

	n, err := h.Write([]byte("hi"))
	if err != nil || n != 2 {
		t.Fatalf("Write = (%d, %v), want (2, nil)", n, err)
	}
	if string(dev.written) != "hi" {
		t.Errorf("device received %q, want %q", dev.written, "hi")
	}
}

func TestHandleWriteWrapsDeviceError(t *testing.T) {
	dev := &fakeDevice{writeErr: errors.New("boom")}
	h := NewHandle(dev)

	if _, err := h.Write([]byte("x")); err == nil || err.Message != "boom" {
		t.Errorf("expected Write to wrap the device error, got %v", err)
	}
}

func TestHandleReadNotSupported(t *testing.T) {
	h := NewHandle(&fakeDevice{})
	if _, err := h.Read(make([]byte, 1)); err != object.ErrNotSupported {
		t.Errorf("Read() = %v, want ErrNotSupported", err)
	}
}

func TestHandleControlCanonicalRoundTrip(t *testing.T) {
	h := NewHandle(&fakeDevice{})

	v, err := h.Control(SctlTTYGetCanonical, 0)
	if err != nil || v != 1 {
		t.Fatalf("expected new handle to start canonical, got (%d, %v)", v, err)
	}

	if _, err := h.Control(SctlTTYSetCanonical, 0); err != nil {
		t.Fatalf("SctlTTYSetCanonical failed: %v", err)
	}

	v, err = h.Control(SctlTTYGetCanonical, 0)
	if err != nil || v != 0 {
		t.Errorf("expected raw mode after SctlTTYSetCanonical(0), got (%d, %v)", v, err)
	}
}

func TestHandleControlUnknownRequest(t *testing.T) {
	h := NewHandle(&fakeDevice{})
	if _, err := h.Control(0xdead, 0); err == nil {
		t.Error("expected an unknown control request to fail")
	}
}
