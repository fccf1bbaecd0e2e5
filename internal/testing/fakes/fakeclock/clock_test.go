package fakeclock

import (
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestTimerFiresOnAdvance(t *testing.T) {
	c := New(epoch)
	tm := c.NewTimer(time.Second)

	c.Advance(500 * time.Millisecond)
	select {
	case <-tm.C():
		t.Fatal("timer fired before deadline")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case got := <-tm.C():
		if !got.Equal(epoch.Add(time.Second)) {
			t.Errorf("fired at %v, want %v", got, epoch.Add(time.Second))
		}
	default:
		t.Fatal("timer did not fire at deadline")
	}
}

func TestTimerStop(t *testing.T) {
	c := New(epoch)
	tm := c.NewTimer(time.Second)

	if !tm.Stop() {
		t.Error("Stop() on active timer = false, want true")
	}
	if tm.Stop() {
		t.Error("second Stop() = true, want false")
	}

	c.Advance(2 * time.Second)
	select {
	case <-tm.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestTickerTicks(t *testing.T) {
	c := New(epoch)
	tk := c.NewTicker(100 * time.Millisecond)
	defer tk.Stop()

	c.Advance(100 * time.Millisecond)
	select {
	case <-tk.C():
	default:
		t.Fatal("ticker did not tick")
	}
}

func TestWaitForTimers(t *testing.T) {
	c := New(epoch)
	go c.NewTimer(time.Second)

	if !c.WaitForTimers(1, time.Second) {
		t.Fatal("WaitForTimers() = false, want true")
	}
	if c.WaitForTimers(1, 10*time.Millisecond) {
		t.Error("WaitForTimers() = true with no new timers")
	}
}
