// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

// Package clock exposes a monotonic real-time source for stamping directory
// entry access/modify times, decoupled from the standard library's time
// package so that write-back and timestamp behavior can be driven
// deterministically in tests.
package clock

import "time"

// Clock is the only real-time dependency the fat32 core takes. Any
// monotonic source works; Mount does not assume wall-clock time moves
// forward between calls.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel on which the current time is sent once the
	// given duration has elapsed according to this clock.
	After(d time.Duration) <-chan time.Time
}

var _ Clock = RealClock{}
var _ Clock = (*SimulatedClock)(nil)
var _ Clock = (*FakeClock)(nil)
