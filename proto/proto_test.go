package proto

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	headers := []Header{
		{},
		{ChunkNum: 0, ChunkSize: 1, DataID: 0, DataSize: 1},
		{ChunkNum: 42, ChunkSize: 1376000, DataID: 999, DataSize: 1376},
		{ChunkNum: 1<<63 - 1, ChunkSize: MaxChunkSize, DataID: MaxNPkt, DataSize: MaxDataSize},
		{ChunkNum: FirstReserved - 1, ChunkSize: 0xdeadbeef, DataID: 0xffffffff, DataSize: 0},
	}

	for _, h := range headers {
		buf := make([]byte, HeaderLen+int(h.DataSize))
		h.Marshal(buf)
		got, payload, err := Parse(buf)
		if err != nil {
			t.Fatalf("Parse(%+v) returned error: %v", h, err)
		}
		if got != h {
			t.Fatalf("round trip mismatch: sent %+v, got %+v", h, got)
		}
		if len(payload) != int(h.DataSize) {
			t.Fatalf("payload length %d, want %d", len(payload), h.DataSize)
		}
	}
}

func TestHeaderIsBigEndian(t *testing.T) {
	buf := make([]byte, HeaderLen)
	Header{ChunkNum: 1, ChunkSize: 2, DataID: 3, DataSize: 4}.Marshal(buf)

	want := []byte{
		0, 0, 0, 0, 0, 0, 0, 1,
		0, 0, 0, 0, 0, 0, 0, 2,
		0, 0, 0, 3,
		0, 0, 0, 4,
	}
	if !bytes.Equal(buf, want) {
		t.Fatalf("wire header %x, want %x", buf, want)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	// Too short to carry a header.
	for _, n := range []int{0, 1, HeaderLen - 1} {
		if _, _, err := Parse(make([]byte, n)); err == nil {
			t.Fatalf("Parse accepted a %d byte datagram", n)
		}
	}

	// Declared payload exceeding the datagram.
	buf := make([]byte, HeaderLen+10)
	Header{ChunkNum: 7, ChunkSize: 100, DataID: 0, DataSize: 11}.Marshal(buf)
	if _, _, err := Parse(buf); err == nil {
		t.Fatalf("Parse accepted a datagram with a lying data_size")
	}

	// Exact fit is fine.
	Header{ChunkNum: 7, ChunkSize: 100, DataID: 0, DataSize: 10}.Marshal(buf)
	if _, _, err := Parse(buf); err != nil {
		t.Fatalf("Parse rejected a well formed datagram: %v", err)
	}
}

func TestClassify(t *testing.T) {
	mk := func(num uint64) []byte {
		buf := make([]byte, HeaderLen)
		Header{ChunkNum: num}.Marshal(buf)
		return buf
	}

	cases := []struct {
		num  uint64
		want PacketType
	}{
		{BeginBeacon, PktBegin},
		{NoMoreChunk, PktEnd},
		{KeepAliveBeacon, PktKeepAlive},
		{0, PktData},
		{1, PktData},
		{FirstReserved - 1, PktData},
	}
	for _, c := range cases {
		if got := Classify(mk(c.num)); got != c.want {
			t.Fatalf("Classify(chunk_num=%#x) = %v, want %v", c.num, got, c.want)
		}
	}

	// Every reserved value that is not one of the three beacons is unknown.
	for num := FirstReserved; num != 0; num++ {
		if num == BeginBeacon || num == NoMoreChunk || num == KeepAliveBeacon {
			continue
		}
		if got := Classify(mk(num)); got != PktUnknown {
			t.Fatalf("Classify(reserved %#x) = %v, want UNKNOWN", num, got)
		}
	}

	// Truncated datagrams are unknown too.
	if got := Classify(make([]byte, HeaderLen-1)); got != PktUnknown {
		t.Fatalf("Classify(short datagram) = %v, want UNKNOWN", got)
	}
}

func TestBeaconHeaders(t *testing.T) {
	if h := BeginHeader(); h.ChunkNum != BeginBeacon || h.DataSize != 0 {
		t.Fatalf("unexpected BEGIN header: %+v", h)
	}
	if h := EndHeader(); h.ChunkNum != NoMoreChunk || h.DataSize != 0 {
		t.Fatalf("unexpected END header: %+v", h)
	}
	if h := KeepAliveHeader(); h.ChunkNum != KeepAliveBeacon || h.DataSize != 0 {
		t.Fatalf("unexpected KEEPALIVE header: %+v", h)
	}
}
