package errcode

import (
	"testing"

	"github.com/pkg/errors"
)

func TestSelect(t *testing.T) {
	cases := []struct {
		a, b, want Code
	}{
		{Success, Success, Success},
		{Success, Timeout, Timeout},
		{Timeout, Success, Timeout},
		{Timeout, Network, Timeout},
		{Network, Timeout, Timeout},
		{IncompleteChunk, IPC, IncompleteChunk},
		{EOT, Internal, EOT},
	}
	for _, c := range cases {
		if got := Select(c.a, c.b); got != c.want {
			t.Fatalf("Select(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestOf(t *testing.T) {
	if got := Of(nil); got != Success {
		t.Fatalf("Of(nil) = %v", got)
	}
	if got := Of(Timeout); got != Timeout {
		t.Fatalf("Of(Timeout) = %v", got)
	}
	wrapped := errors.Wrap(errors.Wrap(BadPkt, "inner"), "outer")
	if got := Of(wrapped); got != BadPkt {
		t.Fatalf("Of(wrapped BadPkt) = %v", got)
	}
	if got := Of(errors.New("opaque")); got != Internal {
		t.Fatalf("Of(opaque error) = %v", got)
	}
}

func TestCodesAreStable(t *testing.T) {
	// The numeric values double as process exit codes and define the
	// severity order, they must not drift.
	want := map[Code]int{
		Success:         0,
		EOT:             1,
		NoConfig:        2,
		MTUTooSmall:     3,
		MTUTooBig:       4,
		InvalidAddr:     5,
		BadFD:           6,
		BadInFD:         7,
		BadOutFD:        8,
		FileRead:        9,
		BadNPkt:         10,
		BadRedund:       11,
		EngineError:     12,
		BufferTooSmall:  13,
		IncompleteChunk: 14,
		BadChunk:        15,
		BadPkt:          16,
		Timeout:         17,
		Network:         18,
		IPC:             19,
		Internal:        20,
	}
	for code, value := range want {
		if int(code) != value {
			t.Fatalf("%v = %d, want %d", code, int(code), value)
		}
	}
}
