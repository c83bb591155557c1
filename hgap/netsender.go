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
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/cea-sec/hairgap/errcode"
	"github.com/cea-sec/hairgap/limiter"
	"github.com/cea-sec/hairgap/proto"
)

// netSender encapsulates the outgoing datagram socket, rate limiting,
// the control salvo, and the keep-alive beacon. Apart from the BEGIN and
// END beacons built by the encoder, it takes pre-built packets to send.
type netSender struct {
	conn net.PacketConn
	dst  net.Addr
	lim  *limiter.Limiter

	stop atomic.Bool
	wg   sync.WaitGroup
}

// newNetSender opens the socket and, when keepAlive is non-zero, starts
// the keep-alive goroutine.
func newNetSender(cfg *Config) (*netSender, error) {
	target := fmt.Sprintf("%s:%d", cfg.Addr, cfg.Port)
	dst, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, errors.Wrapf(errcode.InvalidAddr, "resolving %q", target)
	}

	var conn net.PacketConn
	if cfg.TCP {
		conn, err = dialTCPRaw(target)
	} else {
		conn, err = net.ListenPacket("udp", ":0")
	}
	if err != nil {
		return nil, errors.Wrap(errcode.Network, err.Error())
	}

	ns := &netSender{
		conn: conn,
		dst:  dst,
		lim:  limiter.New(cfg.ByteRate),
	}
	if cfg.KeepAlive > 0 {
		ns.wg.Add(1)
		go ns.keepAliveLoop(cfg.KeepAlive)
	}
	return ns, nil
}

// send pushes one packet through the rate limiter.
func (ns *netSender) send(pkt []byte) (int, error) {
	n, err := ns.conn.WriteTo(pkt, ns.dst)
	if err == nil {
		ns.lim.Limit(n)
	}
	return n, err
}

// control sends a salvo of one control packet. Being unidirectional and
// unacknowledged, control packets are repeated in the hope of at least
// one reaching the destination.
func (ns *netSender) control(pkt []byte) error {
	for i := 0; i < proto.SalvoLen; i++ {
		if _, err := ns.send(pkt); err != nil {
			return errors.Wrap(errcode.Network, err.Error())
		}
	}
	return nil
}

// keepAliveLoop emits one header-only KEEPALIVE per period until the
// stop flag is raised. Beacons bypass the limiter: they are cheap and
// must not be throttled. The socket is shared with the emit goroutine,
// datagram sendto is atomic so no lock is needed.
func (ns *netSender) keepAliveLoop(period time.Duration) {
	defer ns.wg.Done()

	pkt := make([]byte, proto.HeaderLen)
	proto.KeepAliveHeader().Marshal(pkt)

	for !ns.stop.Load() {
		time.Sleep(period)
		if ns.stop.Load() {
			return
		}
		if _, err := ns.conn.WriteTo(pkt, ns.dst); err != nil {
			log.Println("keepalive:", err)
		}
	}
}

// Close raises the stop flag, joins the keep-alive goroutine, then
// closes the socket. The flag is always set before the join and the
// join always happens before the close.
func (ns *netSender) Close() error {
	ns.stop.Store(true)
	ns.wg.Wait()
	return ns.conn.Close()
}

// Total returns the number of bytes accounted by the limiter.
func (ns *netSender) Total() int64 { return ns.lim.Total() }
