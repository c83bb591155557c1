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
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/cea-sec/hairgap/channel"
	"github.com/cea-sec/hairgap/errcode"
	"github.com/cea-sec/hairgap/fec"
	"github.com/cea-sec/hairgap/proto"
)

// writeSyncThreshold bounds the dirty page backlog: the writer syncs the
// output every time this much data has accumulated.
const writeSyncThreshold = 100 * 1024 * 1024

// rawPkt is a reusable datagram slot. A poison slot terminates the
// pipeline.
type rawPkt struct {
	data   []byte
	n      int
	poison bool
}

// Receive binds cfg.Addr:cfg.Port and writes the received transfer to
// cfg.Out. It spawns the decoder and writer goroutines and runs the
// network read loop itself, returning once the transfer ends, times out,
// or fails.
func Receive(cfg *Config) error {
	if err := cfg.CheckReceiver(); err != nil {
		return err
	}
	if err := fec.Init(); err != nil {
		return err
	}

	dec := fec.NewDecoder()

	// Both channels share the memory budget, half each. The decoded
	// chunk channel only holds slices, its slots are accounted at one
	// full chunk's worth.
	slotSize := proto.HeaderLen + cfg.PktSize
	pktChanCap := int(cfg.MemLimit/2) / slotSize
	if pktChanCap < 1 {
		pktChanCap = 1
	}
	chunkChanCap := int(cfg.MemLimit/2) / proto.MaxChunkSize
	if chunkChanCap < 256 {
		chunkChanCap = 256
	}

	net2dec := channel.NewWith[rawPkt](pktChanCap, func() rawPkt {
		return rawPkt{data: make([]byte, slotSize)}
	})
	dec2out := channel.New[[]byte](chunkChanCap)

	wrRes := make(chan error, 1)
	go func() { wrRes <- writeLoop(cfg.Out, dec2out) }()

	decRes := make(chan error, 1)
	go func() { decRes <- decodeLoop(dec, net2dec, dec2out) }()

	err := netReader(cfg, net2dec)

	err = selectErr(err, <-decRes)
	err = selectErr(err, <-wrRes)
	return err
}

// netReader reads datagrams into channel slots. The socket blocks
// forever until the first BEGIN beacon, then the configured receive
// timeout is armed: the receiver is patient before a transfer and
// intolerant during one. A terminal poison slot is always committed.
func netReader(cfg *Config, out *channel.Channel[rawPkt]) error {
	var retErr error

	bind := fmt.Sprintf("%s:%d", cfg.Addr, cfg.Port)
	var conn net.PacketConn
	var err error
	if cfg.TCP {
		conn, err = listenTCPRaw(bind)
	} else {
		conn, err = net.ListenPacket("udp", bind)
	}
	if err != nil {
		retErr = errors.Wrap(errcode.Network, err.Error())
	}

	started := false
	for retErr == nil {
		slot, ok := out.Reserve()
		if !ok {
			retErr = errcode.IPC
			break
		}
		slot.poison = false

		if started && cfg.Timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(cfg.Timeout))
		}
		n, _, err := conn.ReadFrom(slot.data)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				log.Println("end of reception, socket timed out")
				retErr = errcode.Timeout
			} else {
				retErr = errors.Wrap(errcode.Network, err.Error())
			}
			break
		}
		slot.n = n

		pktType := proto.Classify(slot.data[:n])
		if pktType == proto.PktBegin && !started {
			started = true
		}

		// Always forward, the decoder drives the actual protocol.
		if !out.Commit(slot) {
			retErr = errcode.IPC
			break
		}
		if pktType == proto.PktEnd {
			break
		}
	}

	if conn != nil {
		conn.Close()
	}

	// Poison pill.
	if slot, ok := out.Reserve(); ok {
		slot.n = 0
		slot.poison = true
		if !out.Commit(slot) && retErr == nil {
			retErr = errcode.IPC
		}
	}
	return retErr
}

// decodeLoop feeds raw packets to the decoder and forwards every
// reassembled chunk. On a decoding error it poisons the upstream channel
// and surfaces the error; a terminal nil chunk is always committed.
func decodeLoop(dec *fec.Decoder, in *channel.Channel[rawPkt], out *channel.Channel[[]byte]) error {
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

		n, err := dec.Read(slot.data[:slot.n])
		if !in.Ack(slot) {
			retErr = errcode.IPC
			break
		}

		if errcode.Of(err) == errcode.EOT {
			break
		}
		if errcode.Of(err) == errcode.BadPkt {
			// A single malformed datagram is absorbed like a lost one.
			continue
		}
		if err != nil {
			retErr = err
			in.Poison()
			break
		}
		if n == 0 {
			continue
		}

		chunk := make([]byte, n)
		if err := dec.Emit(chunk); err != nil {
			retErr = err
			in.Poison()
			break
		}
		if !out.Send(chunk) {
			retErr = errcode.IPC
			break
		}
	}

	log.Println("no more data")
	if !out.Send(nil) && retErr == nil {
		retErr = errcode.IPC
	}
	return retErr
}

// writeLoop streams reassembled chunks to the output, syncing every
// writeSyncThreshold bytes so a slow disk cannot accumulate an unbounded
// dirty page backlog.
func writeLoop(out io.Writer, in *channel.Channel[[]byte]) error {
	if f, ok := out.(*os.File); ok {
		hintSequential(f)
	}

	var since, total int64
	for {
		chunk, ok := in.Recv()
		if !ok || chunk == nil {
			break
		}

		n, err := out.Write(chunk)
		if err != nil || n < len(chunk) {
			return errors.Wrap(errcode.BadOutFD, "short write")
		}
		since += int64(n)
		total += int64(n)

		if since >= writeSyncThreshold {
			since = 0
			flush(out)
		}
	}

	flush(out)
	log.Println("wrote", total, "bytes")
	return nil
}

type flusher interface {
	Flush() error
}

func flush(out io.Writer) {
	switch w := out.(type) {
	case *os.File:
		w.Sync()
	case flusher:
		w.Flush()
	}
}
