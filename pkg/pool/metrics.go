package pool

import "sync/atomic"

// Metrics tracks run performance counters. All methods are safe for
// concurrent use and safe to call on a nil receiver, so the pool's hot
// path never branches on whether metrics were requested.
type Metrics struct {
	totalStarted   int64
	totalSucceeded int64
	totalFailed    int64
	peakInFlight   int64
}

// TotalStarted returns the number of operations admitted so far.
func (m *Metrics) TotalStarted() int64 {
	if m == nil {
		return 0
	}
	return atomic.LoadInt64(&m.totalStarted)
}

// TotalSucceeded returns the number of operations that completed successfully.
func (m *Metrics) TotalSucceeded() int64 {
	if m == nil {
		return 0
	}
	return atomic.LoadInt64(&m.totalSucceeded)
}

// TotalFailed returns the number of operations that failed.
func (m *Metrics) TotalFailed() int64 {
	if m == nil {
		return 0
	}
	return atomic.LoadInt64(&m.totalFailed)
}

// PeakInFlight returns the highest number of simultaneously in-flight
// operations observed across all runs using this collector.
func (m *Metrics) PeakInFlight() int64 {
	if m == nil {
		return 0
	}
	return atomic.LoadInt64(&m.peakInFlight)
}

// Reset zeroes all counters.
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	atomic.StoreInt64(&m.totalStarted, 0)
	atomic.StoreInt64(&m.totalSucceeded, 0)
	atomic.StoreInt64(&m.totalFailed, 0)
	atomic.StoreInt64(&m.peakInFlight, 0)
}

func (m *Metrics) recordStart(inFlight int64) {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.totalStarted, 1)
	for {
		peak := atomic.LoadInt64(&m.peakInFlight)
		if inFlight <= peak {
			break
		}
		if atomic.CompareAndSwapInt64(&m.peakInFlight, peak, inFlight) {
			break
		}
	}
}

func (m *Metrics) recordSuccess() {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.totalSucceeded, 1)
}

func (m *Metrics) recordFailure() {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.totalFailed, 1)
}
