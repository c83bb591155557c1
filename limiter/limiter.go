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

// Package limiter paces an outgoing byte stream to a target average
// rate. It is a simple averaging limiter, not a token bucket: the rate
// is only re-checked every chkPeriod packets, so short-term bursts of up
// to one check period are possible.
package limiter

import "time"

const (
	chkPeriod   = 1000
	sleepPeriod = 100 * time.Microsecond
)

// Limiter tracks bytes sent in the current measurement window and
// sleeps the caller when the observed average exceeds the target.
// It is meant to be called from a single sending goroutine.
type Limiter struct {
	byteRate float64 // target bytes/second, 0 disables pacing

	pktsSent  int64
	bytesSent int64
	since     time.Time

	total int64
}

// New creates a limiter capped at byteRate bytes per second.
// A zero (or negative) byteRate disables pacing.
func New(byteRate float64) *Limiter {
	l := &Limiter{byteRate: byteRate}
	l.reset()
	return l
}

func (l *Limiter) reset() {
	l.since = time.Now()
	l.pktsSent = 0
	l.bytesSent = 0
}

func (l *Limiter) currentRate() float64 {
	elapsed := time.Since(l.since).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(l.bytesSent) / elapsed
}

// Limit accounts for n sent bytes. Every chkPeriod packets it sleeps in
// sleepPeriod increments until the observed average rate drops below the
// target, then opens a new measurement window.
func (l *Limiter) Limit(n int) {
	l.total += int64(n)
	l.pktsSent++
	l.bytesSent += int64(n)
	if l.byteRate > 0 && l.pktsSent >= chkPeriod {
		for l.currentRate() > l.byteRate {
			time.Sleep(sleepPeriod)
		}
		l.reset()
	}
}

// Total returns the number of bytes accounted for since creation.
func (l *Limiter) Total() int64 { return l.total }
