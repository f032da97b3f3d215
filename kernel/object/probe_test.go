package object

import (
	"testing"

	"github.com/petitstrawberry/scarlet/kernel"
)

// fakeObject implements every capability interface so the probe helpers can
// be exercised against a single concrete type; fakeBareObject implements
// nothing beyond the minimal KernelObject contract.
type fakeObject struct{}

func (fakeObject) Kind() Kind                                 { return KindFile }
func (fakeObject) Close() *kernel.Error                       { return nil }
func (fakeObject) Read(buf []byte) (int, *kernel.Error)       { return 0, nil }
func (fakeObject) Write(buf []byte) (int, *kernel.Error)      { return 0, nil }
func (fakeObject) Seek(offset int64, whence int) (int64, *kernel.Error) { return 0, nil }
func (fakeObject) Size() (int64, *kernel.Error)               { return 0, nil }
func (fakeObject) Control(request uint64, arg uintptr) (uintptr, *kernel.Error) {
	return 0, nil
}
func (fakeObject) MapInto(asid uint32, vaddrHint uintptr, writable bool) (uintptr, *kernel.Error) {
	return 0, nil
}
func (fakeObject) Clone() (KernelObject, *kernel.Error)       { return fakeObject{}, nil }
func (fakeObject) Publish(evt Event) *kernel.Error            { return nil }
func (fakeObject) Receive(block bool) (Event, *kernel.Error) { return Event{}, nil }

type fakeBareObject struct{}

func (fakeBareObject) Kind() Kind           { return KindDevice }
func (fakeBareObject) Close() *kernel.Error { return nil }

func TestProbes(t *testing.T) {
	full := fakeObject{}
	bare := fakeBareObject{}

	if _, ok := AsStream(full); !ok {
		t.Error("expected AsStream to succeed on fakeObject")
	}
	if _, ok := AsStream(bare); ok {
		t.Error("expected AsStream to fail on fakeBareObject")
	}

	if _, ok := AsFile(full); !ok {
		t.Error("expected AsFile to succeed on fakeObject")
	}
	if _, ok := AsFile(bare); ok {
		t.Error("expected AsFile to fail on fakeBareObject")
	}

	if _, ok := AsControl(full); !ok {
		t.Error("expected AsControl to succeed on fakeObject")
	}
	if _, ok := AsControl(bare); ok {
		t.Error("expected AsControl to fail on fakeBareObject")
	}

	if _, ok := AsMmappable(full); !ok {
		t.Error("expected AsMmappable to succeed on fakeObject")
	}
	if _, ok := AsMmappable(bare); ok {
		t.Error("expected AsMmappable to fail on fakeBareObject")
	}

	if _, ok := AsCloneable(full); !ok {
		t.Error("expected AsCloneable to succeed on fakeObject")
	}
	if _, ok := AsCloneable(bare); ok {
		t.Error("expected AsCloneable to fail on fakeBareObject")
	}

	if _, ok := AsEventIpc(full); !ok {
		t.Error("expected AsEventIpc to succeed on fakeObject")
	}
	if _, ok := AsEventIpc(bare); ok {
		t.Error("expected AsEventIpc to fail on fakeBareObject")
	}
}

func TestKindString(t *testing.T) {
	cases := []struct {
		kind Kind
		want string
	}{
		{KindFile, "file"},
		{KindPipeEndpoint, "pipe"},
		{KindEventChannel, "event-channel"},
		{KindEventSubscription, "event-subscription"},
		{KindDevice, "device"},
		{KindMemoryMapping, "memory-mapping"},
		{Kind(255), "unknown"},
	}

	for _, c := range cases {
		if got := c.kind.String(); got != c.want {
			t.Errorf("Kind(%d).String() = %q, want %q", c.kind, got, c.want)
		}
	}
}

func TestFilterMatches(t *testing.T) {
	cases := []struct {
		name   string
		filter Filter
		evt    Event
		want   bool
	}{
		{"empty filter matches everything", Filter{}, Event{Type: 7}, true},
		{"matching type", Filter{Types: []uint32{1, 7}}, Event{Type: 7}, true},
		{"non-matching type", Filter{Types: []uint32{1, 2}}, Event{Type: 7}, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.filter.Matches(c.evt); got != c.want {
				t.Errorf("Matches() = %v, want %v", got, c.want)
			}
		})
	}
}
