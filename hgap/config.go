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

// Package hgap is the high level hairgap API: Send pushes a byte stream
// over a strictly unidirectional UDP link, Receive reconstructs it on
// the other side. Reliability comes entirely from forward error
// correction, there is no return channel of any kind.
package hgap

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/cea-sec/hairgap/errcode"
	"github.com/cea-sec/hairgap/proto"
)

// Defaults.
const (
	DefNPkt      = 1000
	DefPktSize   = 1400
	DefRedund    = 1.2
	DefPort      = proto.DefaultPort
	DefKeepAlive = 500 * time.Millisecond
	DefTimeout   = time.Second
	DefMemLimit  = 100 * 1024 * 1024
)

// Config carries every tunable of a transfer. The zero value is not
// usable, start from Defaults.
type Config struct {
	// In is the stream to read from when sending.
	In io.Reader
	// Out is the stream to write to when receiving.
	Out io.Writer
	// NPkt is the number of packets in an error correction chunk.
	NPkt int
	// PktSize is the size of a packet, protocol header included. It
	// should typically fit in a UDP MTU.
	PktSize int
	// Redund is the desired amount of redundancy: 1.2 produces 200
	// redundant packets for a 1000 packet long chunk.
	Redund float64
	// Addr is the destination host on the sender side and the binding
	// address on the receiver side.
	Addr string
	// Port is the destination (resp. binding) port.
	Port int
	// ByteRate caps the sending rate in bytes/second. 0 disables it.
	ByteRate float64
	// KeepAlive is the liveness beacon period. 0 disables it. Sender
	// side only.
	KeepAlive time.Duration
	// Timeout is how long the receiver waits for the next packet once a
	// transfer has started before considering it interrupted. 0
	// disables it (not recommended). Receiver side only.
	Timeout time.Duration
	// MemLimit is the approximate maximum amount of memory used to
	// buffer incoming packets and chunks (very approximate).
	MemLimit int64
	// TCP sends the datagrams over a TCP-emulating raw socket instead
	// of UDP (linux only). Wire bytes are identical.
	TCP bool
}

// Defaults returns a config with safe defaults. Addr is empty and must
// be set by the caller.
func Defaults() Config {
	return Config{
		NPkt:      DefNPkt,
		PktSize:   DefPktSize,
		Redund:    DefRedund,
		Port:      DefPort,
		ByteRate:  0,
		KeepAlive: DefKeepAlive,
		Timeout:   DefTimeout,
		MemLimit:  DefMemLimit,
	}
}

// Dump logs a debug view of the config through logf, one "key: value"
// line per field.
func (c *Config) Dump(logf func(v ...interface{})) {
	addr := c.Addr
	if addr == "" {
		addr = "<not set>"
	}
	logf("addr:", addr)
	logf("port:", c.Port)
	logf("n_pkt:", c.NPkt)
	logf("mtu:", c.PktSize)
	logf("redundancy:", c.Redund)
	logf("byterate:", c.ByteRate)
	logf("keepalive:", c.KeepAlive)
	logf("timeout:", c.Timeout)
	logf("memory limit:", fmt.Sprintf("%.3f MB", float64(c.MemLimit)/(1024*1024)))
	logf("tcp:", c.TCP)
}

func checkAddr(addr string) error {
	if addr == "" {
		return errors.Wrap(errcode.InvalidAddr, "empty address")
	}
	if _, err := net.LookupHost(addr); err != nil {
		return errors.Wrapf(errcode.InvalidAddr, "resolving %q", addr)
	}
	return nil
}

// CheckSender validates a config for sending data.
func (c *Config) CheckSender() error {
	if c == nil {
		return errcode.NoConfig
	}
	if c.PktSize <= proto.HeaderLen {
		return errors.Wrapf(errcode.MTUTooSmall, "mtu %d", c.PktSize)
	}
	if c.PktSize > proto.MaxPktSize {
		return errors.Wrapf(errcode.MTUTooBig, "mtu %d", c.PktSize)
	}
	if err := checkAddr(c.Addr); err != nil {
		return err
	}
	if c.In == nil {
		return errcode.BadInFD
	}
	if c.NPkt < 1 || c.NPkt > proto.MaxNPkt {
		return errors.Wrapf(errcode.BadNPkt, "n_pkt %d", c.NPkt)
	}
	if c.Redund < 1.0 {
		return errors.Wrapf(errcode.BadRedund, "redundancy %f", c.Redund)
	}
	return nil
}

// CheckReceiver validates a config for receiving data.
func (c *Config) CheckReceiver() error {
	if c == nil {
		return errcode.NoConfig
	}
	if c.Out == nil {
		return errcode.BadOutFD
	}
	return checkAddr(c.Addr)
}
