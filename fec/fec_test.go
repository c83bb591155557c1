package fec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/cea-sec/hairgap/errcode"
	"github.com/cea-sec/hairgap/proto"
)

func mustInit(t *testing.T) {
	t.Helper()
	if err := Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
}

func fill(n int, seed int64) []byte {
	buf := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(buf)
	return buf
}

// emitAll runs chunk emission to the redundancy target and returns the
// raw packets.
func emitAll(t *testing.T, c *Chunk, redund float64) [][]byte {
	t.Helper()
	var pkts [][]byte
	for {
		pkt := make([]byte, c.PktSize())
		ratio, err := c.Emit(pkt)
		if err != nil {
			t.Fatalf("Emit: %v", err)
		}
		pkts = append(pkts, pkt)
		if ratio >= redund {
			return pkts
		}
	}
}

// decode drives a decoder through a BEGIN beacon and the given packets.
func decode(t *testing.T, pkts [][]byte, want []byte) {
	t.Helper()
	dec := NewDecoder()
	begin := make([]byte, proto.HeaderLen)
	proto.BeginHeader().Marshal(begin)
	if n, err := dec.Read(begin); n != 0 || err != nil {
		t.Fatalf("Read(BEGIN) = (%d, %v)", n, err)
	}

	for i, pkt := range pkts {
		n, err := dec.Read(pkt)
		if err != nil {
			t.Fatalf("Read(pkt %d): %v", i, err)
		}
		if n > 0 {
			if n != len(want) {
				t.Fatalf("chunk length %d, want %d", n, len(want))
			}
			out := make([]byte, n)
			if err := dec.Emit(out); err != nil {
				t.Fatalf("Emit: %v", err)
			}
			if !bytes.Equal(out, want) {
				t.Fatalf("reconstructed chunk differs from the source")
			}
			return
		}
	}
	t.Fatalf("chunk never became reconstructible from %d packets", len(pkts))
}

func TestChunkBoundary(t *testing.T) {
	mustInit(t)
	enc := NewEncoder(1400, 1.2)

	small, err := enc.NewChunk(fill(1376, 1))
	if err != nil {
		t.Fatal(err)
	}
	if !small.small() || small.PktSize() != 1400 {
		t.Fatalf("1376 bytes at mtu 1400 should be a small chunk of pkt size 1400, got %d", small.PktSize())
	}
	if small.codec != nil {
		t.Fatal("small chunk built a fountain state")
	}

	large, err := enc.NewChunk(fill(1377, 2))
	if err != nil {
		t.Fatal(err)
	}
	if large.small() {
		t.Fatal("1377 bytes at mtu 1400 should be a large chunk")
	}
	if large.codec == nil {
		t.Fatal("large chunk did not build a fountain state")
	}

	// A chunk shorter than the mtu shrinks its packets.
	tiny, err := enc.NewChunk(fill(10, 3))
	if err != nil {
		t.Fatal(err)
	}
	if tiny.PktSize() != 10+proto.HeaderLen {
		t.Fatalf("tiny chunk pkt size %d, want %d", tiny.PktSize(), 10+proto.HeaderLen)
	}
}

func TestMonotonicNumbers(t *testing.T) {
	mustInit(t)
	enc := NewEncoder(256, 1.2)

	for want := uint64(0); want < 5; want++ {
		c, err := enc.NewChunk(fill(100, int64(want)))
		if err != nil {
			t.Fatal(err)
		}
		if c.Num() != want {
			t.Fatalf("chunk number %d, want %d", c.Num(), want)
		}

		// data_id starts at 0 and increases by one per emitted packet.
		for id := uint32(0); id < 3; id++ {
			pkt := make([]byte, c.PktSize())
			if _, err := c.Emit(pkt); err != nil {
				t.Fatal(err)
			}
			h, _, err := proto.Parse(pkt)
			if err != nil {
				t.Fatal(err)
			}
			if h.DataID != id || h.ChunkNum != want || h.ChunkSize != 100 {
				t.Fatalf("unexpected header %+v at id %d of chunk %d", h, id, want)
			}
		}
	}
}

func TestSmallChunkRoundTrip(t *testing.T) {
	mustInit(t)
	enc := NewEncoder(1400, 1.2)

	src := fill(876, 4)
	c, err := enc.NewChunk(src)
	if err != nil {
		t.Fatal(err)
	}
	pkts := emitAll(t, c, 1.2)
	decode(t, pkts, src)
}

func TestLargeChunkRoundTrip(t *testing.T) {
	mustInit(t)
	enc := NewEncoder(256, 1.3)

	src := fill(10000, 5)
	c, err := enc.NewChunk(src)
	if err != nil {
		t.Fatal(err)
	}

	pkts := emitAll(t, c, 1.3)

	// In order.
	decode(t, pkts, src)

	// Shuffled: the code is order independent.
	shuffled := make([][]byte, len(pkts))
	copy(shuffled, pkts)
	rand.New(rand.NewSource(6)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	decode(t, shuffled, src)

	// With ~10% uniform loss: redundancy covers it.
	var kept [][]byte
	rng := rand.New(rand.NewSource(7))
	for _, pkt := range pkts {
		if rng.Intn(10) != 0 {
			kept = append(kept, pkt)
		}
	}
	decode(t, kept, src)
}

func TestFewBlockChunkRoundTrip(t *testing.T) {
	// Chunks of 2 or 3 blocks sit below the Raptor codec's minimum
	// source-block count and are coded as 4 blocks with implicit zero
	// padding. At mtu 256 the payload is 232 bytes per packet, so these
	// lengths pin the block counts to 2, 3 and 4.
	mustInit(t)

	for _, size := range []int{233, 288, 464, 465, 600, 696, 697, 928} {
		enc := NewEncoder(256, 1.2)
		src := fill(size, int64(size))
		c, err := enc.NewChunk(src)
		if err != nil {
			t.Fatalf("NewChunk(%d bytes): %v", size, err)
		}
		if c.small() {
			t.Fatalf("%d bytes at mtu 256 should be a large chunk", size)
		}
		decode(t, emitAll(t, c, 1.2), src)
	}
}

func TestFewBlockChunkSurvivesLoss(t *testing.T) {
	// A 2-block chunk pushed past the padding ids reaches real repair
	// blocks: losing a source packet must still decode.
	mustInit(t)
	enc := NewEncoder(256, 4.5)

	src := fill(288, 13)
	c, err := enc.NewChunk(src)
	if err != nil {
		t.Fatal(err)
	}
	pkts := emitAll(t, c, 4.5)
	if len(pkts) < 6 {
		t.Fatalf("expected at least 6 packets at redundancy 4.5, got %d", len(pkts))
	}
	// Drop the first source block.
	decode(t, pkts[1:], src)
}

func TestIncompleteChunkFails(t *testing.T) {
	mustInit(t)
	enc := NewEncoder(256, 1.0)

	c0, err := enc.NewChunk(fill(10000, 8))
	if err != nil {
		t.Fatal(err)
	}
	p0 := emitAll(t, c0, 1.0)
	c1, err := enc.NewChunk(fill(10000, 9))
	if err != nil {
		t.Fatal(err)
	}
	p1 := emitAll(t, c1, 1.0)

	dec := NewDecoder()
	begin := make([]byte, proto.HeaderLen)
	proto.BeginHeader().Marshal(begin)
	dec.Read(begin)

	// Only one packet of chunk 0 arrives, then chunk 1 starts.
	if _, err := dec.Read(p0[0]); err != nil {
		t.Fatal(err)
	}
	if _, err := dec.Read(p1[0]); errcode.Of(err) != errcode.IncompleteChunk {
		t.Fatalf("got %v, want IncompleteChunk", err)
	}
}

func TestDecoderStateMachine(t *testing.T) {
	mustInit(t)
	enc := NewEncoder(256, 1.0)
	c, err := enc.NewChunk(fill(100, 10))
	if err != nil {
		t.Fatal(err)
	}
	data := make([]byte, c.PktSize())
	if _, err := c.Emit(data); err != nil {
		t.Fatal(err)
	}

	begin := make([]byte, proto.HeaderLen)
	proto.BeginHeader().Marshal(begin)
	end := make([]byte, proto.HeaderLen)
	proto.EndHeader().Marshal(end)
	keepalive := make([]byte, proto.HeaderLen)
	proto.KeepAliveHeader().Marshal(keepalive)

	dec := NewDecoder()

	// DATA before BEGIN is ignored.
	if n, err := dec.Read(data); n != 0 || err != nil {
		t.Fatalf("Read(DATA) in NEW = (%d, %v)", n, err)
	}
	if dec.state != StateNew {
		t.Fatalf("state %v after early DATA, want NEW", dec.state)
	}

	// Replaying BEGIN and KEEPALIVE any number of times keeps STARTED.
	for i := 0; i < proto.SalvoLen; i++ {
		dec.Read(begin)
		dec.Read(keepalive)
	}
	if dec.state != StateStarted {
		t.Fatalf("state %v after BEGIN salvo, want STARTED", dec.state)
	}

	// Unknown reserved packets are ignored.
	unknown := make([]byte, proto.HeaderLen)
	proto.Header{ChunkNum: proto.FirstReserved + 1}.Marshal(unknown)
	if n, err := dec.Read(unknown); n != 0 || err != nil {
		t.Fatalf("Read(UNKNOWN) = (%d, %v)", n, err)
	}

	// First DATA enters the DATA state and completes the small chunk.
	n, err := dec.Read(data)
	if err != nil || n != 100 {
		t.Fatalf("Read(DATA) = (%d, %v), want (100, nil)", n, err)
	}
	out := make([]byte, n)
	if err := dec.Emit(out); err != nil {
		t.Fatal(err)
	}

	// Supernumerary ENDs are absorbed by the absorbing STOPPED state.
	for i := 0; i < proto.SalvoLen; i++ {
		if _, err := dec.Read(end); errcode.Of(err) != errcode.EOT {
			t.Fatalf("Read(END) = %v, want EOT", err)
		}
	}
}

func TestEndBeforeBeginIsIgnored(t *testing.T) {
	mustInit(t)
	dec := NewDecoder()
	end := make([]byte, proto.HeaderLen)
	proto.EndHeader().Marshal(end)
	if n, err := dec.Read(end); n != 0 || err != nil {
		t.Fatalf("Read(END) in NEW = (%d, %v)", n, err)
	}
	if dec.state != StateNew {
		t.Fatalf("END moved the state out of NEW: %v", dec.state)
	}
}

func TestOversizeChunkRejected(t *testing.T) {
	mustInit(t)
	dec := NewDecoder()
	begin := make([]byte, proto.HeaderLen)
	proto.BeginHeader().Marshal(begin)
	dec.Read(begin)

	bad := make([]byte, proto.HeaderLen+10)
	proto.Header{ChunkNum: 0, ChunkSize: proto.MaxChunkSize + 1, DataID: 0, DataSize: 10}.Marshal(bad)
	if _, err := dec.Read(bad); errcode.Of(err) != errcode.BadChunk {
		t.Fatalf("got %v, want BadChunk", err)
	}
}

func TestBeaconBuffers(t *testing.T) {
	enc := NewEncoder(1400, 1.2)

	short := make([]byte, proto.HeaderLen-1)
	if _, err := enc.Handwave(short); errcode.Of(err) != errcode.BufferTooSmall {
		t.Fatalf("Handwave accepted a %d byte buffer", len(short))
	}
	if _, err := enc.Teardown(short); errcode.Of(err) != errcode.BufferTooSmall {
		t.Fatalf("Teardown accepted a %d byte buffer", len(short))
	}

	pkt := make([]byte, proto.HeaderLen)
	if n, err := enc.Handwave(pkt); err != nil || n != proto.HeaderLen {
		t.Fatalf("Handwave = (%d, %v)", n, err)
	}
	if got := proto.Classify(pkt); got != proto.PktBegin {
		t.Fatalf("handwave packet classifies as %v", got)
	}
	if n, err := enc.Teardown(pkt); err != nil || n != proto.HeaderLen {
		t.Fatalf("Teardown = (%d, %v)", n, err)
	}
	if got := proto.Classify(pkt); got != proto.PktEnd {
		t.Fatalf("teardown packet classifies as %v", got)
	}
}

func TestEmitBufferTooSmall(t *testing.T) {
	mustInit(t)
	enc := NewEncoder(1400, 1.2)
	c, err := enc.NewChunk(fill(5000, 11))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Emit(make([]byte, c.PktSize()-1)); errcode.Of(err) != errcode.BufferTooSmall {
		t.Fatalf("Emit accepted an undersized buffer: %v", err)
	}
}

func TestEmitNotReady(t *testing.T) {
	mustInit(t)
	dec := NewDecoder()
	begin := make([]byte, proto.HeaderLen)
	proto.BeginHeader().Marshal(begin)
	dec.Read(begin)

	enc := NewEncoder(256, 1.2)
	c, err := enc.NewChunk(fill(10000, 12))
	if err != nil {
		t.Fatal(err)
	}
	pkt := make([]byte, c.PktSize())
	if _, err := c.Emit(pkt); err != nil {
		t.Fatal(err)
	}
	if _, err := dec.Read(pkt); err != nil {
		t.Fatal(err)
	}
	if err := dec.Emit(make([]byte, 10000)); errcode.Of(err) != errcode.IncompleteChunk {
		t.Fatalf("Emit of an underfed chunk = %v, want IncompleteChunk", err)
	}
}
