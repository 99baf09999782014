package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSleepReturnsFalseAfterFinish(t *testing.T) {
	w := New()
	w.Start()

	done := make(chan bool, 1)
	go func() {
		done <- w.Sleep(time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	w.Finish(time.Second)

	select {
	case alive := <-done:
		assert.False(t, alive)
	case <-time.After(time.Second):
		t.Fatal("Sleep did not return after Finish")
	}
}

func TestSleepTimesOutAndReturnsTrueWhileAlive(t *testing.T) {
	w := New()
	w.Start()

	start := time.Now()
	alive := w.Sleep(30 * time.Millisecond)
	elapsed := time.Since(start)

	assert.True(t, alive)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

func TestWakeUpCutsSleepShort(t *testing.T) {
	w := New()
	w.Start()

	done := make(chan time.Duration, 1)
	go func() {
		start := time.Now()
		w.Sleep(time.Second)
		done <- time.Since(start)
	}()

	time.Sleep(20 * time.Millisecond)
	w.WakeUp()

	select {
	case elapsed := <-done:
		assert.Less(t, elapsed, 500*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("WakeUp did not cut Sleep short")
	}
}

func TestWakeUpIsNoOpWhileBusy(t *testing.T) {
	w := New()
	w.Start()
	w.Busy()

	// WakeUp should not panic or deadlock while busy; Sleep will clear
	// busy itself when the unit of work finishes.
	w.WakeUp()

	start := time.Now()
	alive := w.Sleep(30 * time.Millisecond)
	assert.True(t, alive)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestFinishReturnsFalseWhenNeverBusy(t *testing.T) {
	w := New()
	w.Start()
	timedOut := w.Finish(10 * time.Millisecond)
	assert.False(t, timedOut)
}

func TestFinishTimesOutWhileStillBusy(t *testing.T) {
	w := New()
	w.Start()
	w.Busy()

	timedOut := w.Finish(30 * time.Millisecond)
	assert.True(t, timedOut)
}

func TestFinishReturnsFalseWhenBusyClearsInTime(t *testing.T) {
	w := New()
	w.Start()
	w.Busy()

	go func() {
		time.Sleep(10 * time.Millisecond)
		w.Sleep(time.Second)
	}()

	timedOut := w.Finish(500 * time.Millisecond)
	assert.False(t, timedOut)
}
