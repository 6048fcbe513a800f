package transaction

import "time"

// Timer values per RFC 3261 Section 17, exposed as package vars (not
// constants) so tests can shrink them to make FSM fuzzing fast instead of
// waiting out real 32-second timeouts.
var (
	T1 = 500 * time.Millisecond
	T2 = 4 * time.Second
	T4 = 5 * time.Second

	// Timer1xx is how long a server INVITE transaction waits for the TU to
	// respond before it auto-sends 100 Trying. The original source never
	// pins this value down; RFC 3261 Section 17.2.1 recommends 200ms.
	Timer1xx = 200 * time.Millisecond
)

// SetTimers overrides T1/T2/T4 (and Timer1xx proportionally) for tests that
// want the state machines to reach Terminated without real wall-clock
// waits.
func SetTimers(t1, t2, t4 time.Duration) {
	T1, T2, T4 = t1, t2, t4
}

func timerB() time.Duration { return 64 * T1 }
func timerF() time.Duration { return 64 * T1 }
func timerH() time.Duration { return 64 * T1 }
func timerJUnreliable() time.Duration { return 64 * T1 }
func timerL() time.Duration { return 64 * T1 }
func timerM() time.Duration { return 64 * T1 }

// timerDDuration returns Timer D's value: 32s over UDP, 0 (fires on the
// next event loop turn) over TCP, per RFC 3261 Section 17.1.1.2.
func timerDDuration(reliable bool) time.Duration {
	if reliable {
		return 0
	}
	return 32 * time.Second
}

// timerKDuration returns Timer K's value: T4 over UDP, 0 over TCP.
func timerKDuration(reliable bool) time.Duration {
	if reliable {
		return 0
	}
	return T4
}

// timerIDuration and timerJDuration mirror timerK/timerD for the server
// INVITE and server non-INVITE transactions respectively.
func timerIDuration(reliable bool) time.Duration {
	if reliable {
		return 0
	}
	return T4
}

func timerJDuration(reliable bool) time.Duration {
	if reliable {
		return 0
	}
	return timerJUnreliable()
}

// capRetransmit implements the T2 ceiling on exponential retransmit
// backoff (Timer A doubling, Timer E/G doubling) per RFC 3261.
func capRetransmit(next time.Duration) time.Duration {
	if next > T2 {
		return T2
	}
	return next
}
