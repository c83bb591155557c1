package limiter

import (
	"testing"
	"time"
)

func TestDisabledLimiterNeverSleeps(t *testing.T) {
	l := New(0)
	start := time.Now()
	for i := 0; i < 3*chkPeriod; i++ {
		l.Limit(1400)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("disabled limiter spent %v on %d packets", elapsed, 3*chkPeriod)
	}
	if want := int64(3 * chkPeriod * 1400); l.Total() != want {
		t.Fatalf("Total() = %d, want %d", l.Total(), want)
	}
}

func TestLimiterPacesToTarget(t *testing.T) {
	// 10 MB/s target, push 2 check periods of 10 KB packets
	// (20 MB accounted): the run must take roughly 2 seconds.
	const target = 10 * 1024 * 1024
	const pktLen = 10 * 1024

	l := New(target)
	start := time.Now()
	for i := 0; i < 2*chkPeriod+2; i++ {
		l.Limit(pktLen)
	}
	elapsed := time.Since(start).Seconds()

	rate := float64(l.Total()) / elapsed
	// The averaging window allows bursts of up to one check period, so
	// only assert we are not wildly above target.
	if rate > 1.5*target {
		t.Fatalf("measured rate %.0f B/s, target %d B/s", rate, target)
	}
	if elapsed < 1.0 {
		t.Fatalf("run finished in %.2fs, pacing to %d B/s should take about 2s", elapsed, target)
	}
}
