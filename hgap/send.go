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

package hgap

import (
	"io"
	"log"

	"github.com/pkg/errors"

	"github.com/cea-sec/hairgap/channel"
	"github.com/cea-sec/hairgap/errcode"
	"github.com/cea-sec/hairgap/fec"
	"github.com/cea-sec/hairgap/proto"
)

// sendQueueLen bounds the number of raw buffers (resp. encoded chunks)
// in flight between the sender pipeline stages.
const sendQueueLen = 16

// rawBuf is a reusable input slot: a fixed-size buffer plus its filled
// length. A poison slot terminates the pipeline.
type rawBuf struct {
	data   []byte
	n      int
	poison bool
}

// selectErr keeps the most severe of two errors by the errcode order.
func selectErr(a, b error) error {
	if errcode.Select(errcode.Of(a), errcode.Of(b)) == errcode.Of(a) {
		return a
	}
	return b
}

// Send reads cfg.In until EOF and sends it to cfg.Addr:cfg.Port. It
// spawns the reader and encoder goroutines and runs the emit loop
// itself, returning once the transfer is complete.
func Send(cfg *Config) error {
	if err := cfg.CheckSender(); err != nil {
		return err
	}
	if err := fec.Init(); err != nil {
		return err
	}

	bufSize := cfg.NPkt * (cfg.PktSize - proto.HeaderLen)
	enc := fec.NewEncoder(cfg.PktSize, cfg.Redund)

	in2enc := channel.NewWith[rawBuf](sendQueueLen, func() rawBuf {
		return rawBuf{data: make([]byte, bufSize)}
	})
	enc2net := channel.New[*fec.Chunk](sendQueueLen)

	readRes := make(chan error, 1)
	go func() { readRes <- readLoop(cfg.In, in2enc) }()

	encRes := make(chan error, 1)
	go func() { encRes <- encodeLoop(enc, in2enc, enc2net) }()

	err := emitLoop(cfg, enc, enc2net)

	err = selectErr(err, <-readRes)
	err = selectErr(err, <-encRes)
	return err
}

// readLoop fills channel slots from the input stream, one chunk-sized
// buffer at a time, and commits a poison slot on EOF or failure.
func readLoop(in io.Reader, out *channel.Channel[rawBuf]) error {
	var retErr error

	for {
		slot, ok := out.Reserve()
		if !ok {
			return errcode.IPC
		}
		slot.poison = false

		n, err := io.ReadFull(in, slot.data)
		slot.n = n
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			retErr = errors.Wrap(errcode.FileRead, err.Error())
			break
		}

		if !out.Commit(slot) {
			return errcode.IPC
		}
		if err != nil {
			// EOF, possibly after a short final buffer.
			break
		}
	}

	slot, ok := out.Reserve()
	if !ok {
		return selectErr(retErr, errcode.IPC)
	}
	slot.n = 0
	slot.poison = true
	if !out.Commit(slot) {
		return selectErr(retErr, errcode.IPC)
	}
	return retErr
}

// encodeLoop initialises an encoding chunk per raw buffer and forwards
// it. Initialisation is the expensive half of the coding work, running
// it here overlaps it with packet emission.
func encodeLoop(enc *fec.Encoder, in *channel.Channel[rawBuf], out *channel.Channel[*fec.Chunk]) error {
	var retErr error

	for {
		slot, ok := in.Peek()
		if !ok {
			retErr = errcode.IPC
			break
		}
		if slot.poison {
			break
		}

		chunk, err := enc.NewChunk(slot.data[:slot.n])
		if err != nil {
			retErr = err
			break
		}
		if !out.Send(chunk) {
			retErr = errcode.IPC
			break
		}
		if !in.Ack(slot) {
			retErr = errcode.IPC
			break
		}
	}

	// Propagate the poison.
	if !out.Send(nil) && retErr == nil {
		retErr = errcode.IPC
	}
	return retErr
}

// emitLoop announces the transfer with a BEGIN salvo, then drains
// encoded chunks and emits packets for each until its redundancy ratio
// reaches the configured target. The END salvo is only sent when the
// loop exits with no more data expected.
func emitLoop(cfg *Config, enc *fec.Encoder, in *channel.Channel[*fec.Chunk]) error {
	ns, err := newNetSender(cfg)
	if err != nil {
		return err
	}
	defer ns.Close()

	pkt := make([]byte, cfg.PktSize)
	var retErr error

	n, err := enc.Handwave(pkt)
	if err != nil {
		return err
	}
	if err := ns.control(pkt[:n]); err != nil {
		return err
	}

	moreData := true
	for moreData {
		chunk, ok := in.Recv()
		if !ok {
			return errcode.IPC
		}
		if chunk == nil {
			moreData = false
			break
		}

		for {
			ratio, err := chunk.Emit(pkt)
			if err != nil {
				retErr = err
				moreData = false
				break
			}
			if _, err := ns.send(pkt[:chunk.PktSize()]); err != nil {
				// Transient send failures are absorbed: the packet is
				// lost like any other and the redundancy budget covers it.
				log.Println("send:", err)
			}
			// Inverted test so a 0/0 ratio (empty final chunk) still
			// terminates after one packet.
			if !(ratio < cfg.Redund) {
				break
			}
		}
	}

	log.Println("sent all chunks,", ns.Total(), "bytes sent")

	// Proper teardown only on proper exit.
	if !moreData {
		if n, err := enc.Teardown(pkt); err == nil {
			if cerr := ns.control(pkt[:n]); cerr != nil {
				retErr = selectErr(retErr, cerr)
			}
		}
	}
	return retErr
}
