// The MIT License (MIT)
//
// Copyright (c) 2017 CEA Sec
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package fec turns a stream of raw data chunks into hairgap network
// packets and back, performing forward error correction with a fountain
// code. An encoding chunk is a first-class object: initialisation (the
// expensive part) can run on one goroutine while packet emission runs on
// another.
//
// Chunks come in two regimes. A small chunk fits in a single packet
// payload and is sent as a literal copy, every emitted packet carrying the
// same payload (only the data_id of the header changes).
// A large chunk is split into d source blocks and coded with a rateless
// codec keyed by data_id; any sufficiently large subset of distinct
// packets reconstructs it.
package fec

import (
	"bytes"
	"log"
	"math"
	"math/rand"
	"sync"

	fountain "github.com/google/gofountain"

	"github.com/cea-sec/hairgap/errcode"
	"github.com/cea-sec/hairgap/proto"
)

const (
	// raptorMaxBlocks is the largest source-block count the systematic
	// Raptor codec accepts. Larger chunks fall back to a Luby codec with
	// a robust soliton distribution. Both peers derive the regime from
	// the block count alone, so they always agree.
	raptorMaxBlocks = 8192
	// lubySeed makes the Luby degree sequence identical on both peers.
	lubySeed = 0x68616972
	lubyDelta = 0.01
)

// codecBlocks returns the source-block count handed to the codec for a
// chunk of d real blocks. The Raptor codec only accepts block counts in
// [4, raptorMaxBlocks]; a chunk of 2 or 3 blocks is coded as 4, the
// missing blocks being implicit zero padding either peer can synthesize
// (both already pad the message to a whole number of blocks).
func codecBlocks(d int) int {
	if d < 4 {
		return 4
	}
	return d
}

// newCodec builds the per-chunk codec for d source blocks, d being a
// codecBlocks result.
func newCodec(d int) fountain.Codec {
	if d <= raptorMaxBlocks {
		return fountain.NewRaptorCodec(d, 1)
	}
	spike := int(math.Sqrt(float64(d)))
	return fountain.NewLubyCodec(d, rand.New(rand.NewSource(lubySeed)),
		fountain.RobustSolitonDistribution(d, spike, lubyDelta))
}

var initOnce sync.Once
var initErr error

// Init checks the error correction engine once per process. It must be
// called before any encoder or decoder state is built.
func Init() error {
	initOnce.Do(func() {
		probe := []byte("hairgap fountain code probe pattern!")
		codec := newCodec(4)
		blocks := fountain.EncodeLTBlocks(probe, []int64{0, 1, 2, 3, 4, 5}, codec)
		dec := codec.NewDecoder(len(probe))
		if !dec.AddBlocks(blocks) || !bytes.Equal(dec.Decode(), probe) {
			initErr = errcode.EngineError
		}
	})
	return initErr
}

// Encoder is an encoding session. It hands out monotonically numbered
// chunks sized for a fixed packet size and redundancy target.
type Encoder struct {
	pktSize      int
	redund       float64
	nextChunkNum uint64
}

// NewEncoder creates an encoding session emitting packets of at most
// pktSize bytes (header included) with the given redundancy target.
func NewEncoder(pktSize int, redund float64) *Encoder {
	return &Encoder{pktSize: pktSize, redund: redund}
}

// Handwave writes the BEGIN beacon announcing the transfer into pkt and
// returns its length.
func (e *Encoder) Handwave(pkt []byte) (int, error) {
	if len(pkt) < proto.HeaderLen {
		return 0, errcode.BufferTooSmall
	}
	proto.BeginHeader().Marshal(pkt)
	return proto.HeaderLen, nil
}

// Teardown writes the END beacon closing the transfer into pkt and
// returns its length.
func (e *Encoder) Teardown(pkt []byte) (int, error) {
	if len(pkt) < proto.HeaderLen {
		return 0, errcode.BufferTooSmall
	}
	proto.EndHeader().Marshal(pkt)
	return proto.HeaderLen, nil
}

// Chunk is one encoding unit in flight. It owns a copy of its source
// region and, for large chunks, the pre-generated coded blocks.
type Chunk struct {
	num     uint64
	length  int
	pktSize int
	nextID  uint64

	// data holds the source bytes, padded to codecBlocks(d)*blockSize for
	// large chunks.
	data   []byte
	codec  fountain.Codec
	blocks []fountain.LTBlock

	emitted int
}

// NewChunk assigns the next chunk number and prepares src for emission.
// The source region is copied and not referenced afterwards.
func (e *Encoder) NewChunk(src []byte) (*Chunk, error) {
	c := &Chunk{
		num:     e.nextChunkNum,
		length:  len(src),
		pktSize: min(e.pktSize, len(src)+proto.HeaderLen),
	}
	e.nextChunkNum++

	if c.small() {
		c.data = make([]byte, len(src))
		copy(c.data, src)
		return c, nil
	}

	bs := c.payloadSize()
	d := (len(src) + bs - 1) / bs
	dc := codecBlocks(d)
	c.data = make([]byte, dc*bs)
	copy(c.data, src)
	c.codec = newCodec(dc)

	n := int(math.Ceil(float64(d) * e.redund))
	if n < d {
		n = d
	}
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i)
	}
	c.blocks = fountain.EncodeLTBlocks(c.data, ids, c.codec)
	if len(c.blocks) != n {
		return nil, errcode.EngineError
	}
	return c, nil
}

// Num returns the chunk number.
func (c *Chunk) Num() uint64 { return c.num }

// Len returns the source byte length.
func (c *Chunk) Len() int { return c.length }

// PktSize returns the on-wire size of every packet of this chunk.
func (c *Chunk) PktSize() int { return c.pktSize }

func (c *Chunk) payloadSize() int { return c.pktSize - proto.HeaderLen }

func (c *Chunk) small() bool { return c.length <= c.payloadSize() }

// Emit writes the next packet of the chunk into pkt and returns the
// redundancy ratio reached so far (bytes emitted over source length).
// Callers keep emitting until the ratio reaches their target.
func (c *Chunk) Emit(pkt []byte) (float64, error) {
	if len(pkt) < c.pktSize {
		return -1, errcode.BufferTooSmall
	}
	id := c.nextID
	c.nextID++

	var payload int
	if c.small() {
		payload = c.length
		for i := range pkt[:c.pktSize] {
			pkt[i] = 0
		}
		copy(pkt[proto.HeaderLen:], c.data)
	} else {
		payload = c.payloadSize()
		blk, err := c.block(id)
		if err != nil {
			return -1, err
		}
		copy(pkt[proto.HeaderLen:], blk)
	}

	proto.Header{
		ChunkNum:  c.num,
		ChunkSize: uint64(c.length),
		DataID:    uint32(id),
		DataSize:  uint32(payload),
	}.Marshal(pkt)

	c.emitted += payload
	return float64(c.emitted) / float64(c.length), nil
}

// block returns the coded block for id, generating it on the fly when
// the caller emits past the pre-generated redundancy budget.
func (c *Chunk) block(id uint64) ([]byte, error) {
	if id < uint64(len(c.blocks)) {
		b := c.blocks[id]
		if len(b.Data) != c.payloadSize() {
			return nil, errcode.EngineError
		}
		return b.Data, nil
	}
	extra := fountain.EncodeLTBlocks(c.data, []int64{int64(id)}, c.codec)
	if len(extra) != 1 || len(extra[0].Data) != c.payloadSize() {
		return nil, errcode.EngineError
	}
	return extra[0].Data, nil
}

// State is the phase of the receiving state machine. Transitions only go
// forward.
type State int

const (
	StateNew State = iota
	StateStarted
	StateData
	StateStopped
)

// decChunk mirrors Chunk on the receiving side. Its geometry comes from
// the header of the first packet observed for the chunk.
type decChunk struct {
	num       uint64
	length    int
	blockSize int

	data  []byte
	dec   fountain.Decoder
	seen  map[uint32]struct{} // to avoid feeding duplicates
	ready bool
}

func (c *decChunk) small() bool { return c.length <= c.blockSize }

func (c *decChunk) init(h proto.Header) error {
	if h.DataSize == 0 && h.ChunkSize > 0 {
		return errcode.BadPkt
	}
	*c = decChunk{
		num:       h.ChunkNum,
		length:    int(h.ChunkSize),
		blockSize: int(h.DataSize),
	}
	if c.small() {
		return nil
	}
	d := (c.length + c.blockSize - 1) / c.blockSize
	if d > proto.MaxNPkt {
		return errcode.BadChunk
	}
	dc := codecBlocks(d)
	c.dec = newCodec(dc).NewDecoder(dc * c.blockSize)
	c.seen = make(map[uint32]struct{})

	// The sender never has to transmit the implicit zero padding blocks
	// of a clamped chunk, feed them locally.
	for id := d; id < dc; id++ {
		c.seen[uint32(id)] = struct{}{}
		c.dec.AddBlocks([]fountain.LTBlock{{
			BlockCode: int64(id),
			Data:      make([]byte, c.blockSize),
		}})
	}
	return nil
}

// read feeds one packet. It reports whether the chunk became (or already
// was) reconstructible.
func (c *decChunk) read(h proto.Header, payload []byte) (bool, error) {
	if c.ready {
		return true, nil
	}
	if int(h.DataSize) != c.blockSize {
		return false, errcode.BadPkt
	}
	if c.small() {
		c.data = make([]byte, c.length)
		copy(c.data, payload[:c.length])
		c.ready = true
		return true, nil
	}
	if _, dup := c.seen[h.DataID]; dup {
		return false, nil
	}
	c.seen[h.DataID] = struct{}{}
	blk := make([]byte, len(payload))
	copy(blk, payload)
	c.ready = c.dec.AddBlocks([]fountain.LTBlock{{
		BlockCode: int64(h.DataID),
		Data:      blk,
	}})
	return c.ready, nil
}

// Decoder is a receiving session. It eats raw network datagrams, drives
// the transfer state machine, and reassembles chunks one at a time.
type Decoder struct {
	state State
	chunk decChunk

	complete bool
	emitted  bool
}

// NewDecoder creates a decoding session in the NEW state.
func NewDecoder() *Decoder {
	return &Decoder{
		chunk:    decChunk{num: proto.NoMoreChunk},
		complete: true,
		emitted:  true,
	}
}

// advance moves the state machine for one observed packet type and
// reports whether the packet payload has to be handled.
func (d *Decoder) advance(t proto.PacketType) bool {
	switch t {
	case proto.PktBegin:
		if d.state == StateNew {
			log.Println("begin of transfer")
			d.state = StateStarted
		}
		return false
	case proto.PktData:
		if d.state == StateStarted {
			log.Println("incoming data")
			d.state = StateData
		}
		return true
	case proto.PktEnd:
		if d.state >= StateStarted {
			log.Println("end of transfer")
			d.state = StateStopped
		}
		return false
	default:
		return false
	}
}

// Read processes one raw datagram. It returns the chunk byte length when
// the current chunk is reconstructible and not yet emitted, 0 when more
// packets are needed, errcode.EOT once the END beacon has been seen, and
// a protocol or engine error otherwise. A chunk_num change while the
// previous chunk is still underfed fails with IncompleteChunk.
func (d *Decoder) Read(raw []byte) (int, error) {
	h, payload, perr := proto.Parse(raw)

	handle := d.advance(proto.Classify(raw))

	if d.state < StateData {
		return 0, nil
	}
	if d.state == StateStopped {
		return 0, errcode.EOT
	}
	if !handle {
		return 0, nil
	}
	if perr != nil {
		return 0, perr
	}

	if h.ChunkNum != d.chunk.num {
		if !d.complete {
			log.Printf("missed too many packets (chunk %d incomplete, got chunk %d)",
				d.chunk.num, h.ChunkNum)
			return 0, errcode.IncompleteChunk
		}
		if h.ChunkSize > proto.MaxChunkSize {
			return 0, errcode.BadChunk
		}
		if err := d.chunk.init(h); err != nil {
			return 0, err
		}
		d.complete = false
		d.emitted = false
	} else if d.complete {
		if d.emitted {
			return 0, nil
		}
		return d.chunk.length, nil
	}

	ready, err := d.chunk.read(h, payload)
	if err != nil {
		return 0, err
	}
	if ready {
		d.complete = true
		return d.chunk.length, nil
	}
	return 0, nil
}

// Emit reassembles the current chunk into out, which must hold at least
// the chunk length returned by Read.
func (d *Decoder) Emit(out []byte) error {
	if !d.complete {
		return errcode.IncompleteChunk
	}
	if len(out) < d.chunk.length {
		return errcode.BufferTooSmall
	}
	if d.chunk.small() {
		copy(out, d.chunk.data)
	} else {
		msg := d.chunk.dec.Decode()
		if len(msg) < d.chunk.length {
			return errcode.EngineError
		}
		copy(out, msg[:d.chunk.length])
	}
	d.emitted = true
	return nil
}
