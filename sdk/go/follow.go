package enginelink

import (
	"context"
	"time"
)

// Follow driver: one background loop that polls the event bus and feeds the
// event sink. At most one loop runs per Client; starting a new one stops the
// previous first. Events are delivered in strictly ascending seq order
// because the cursor advances past every observed seq.

const followMinBackoff = 250 * time.Millisecond

type follower struct {
	stop chan struct{}
	done chan struct{}
}

// StartFollow launches the poll loop with the given interval. A zero or
// negative interval defaults to one second. Transient poll errors are
// reported to the log sink and the loop continues after a backoff of
// max(250ms, interval).
func (c *Client) StartFollow(interval time.Duration) {
	c.followMu.Lock()
	defer c.followMu.Unlock()
	c.stopFollowLocked()

	if interval <= 0 {
		interval = time.Second
	}
	f := &follower{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	c.follow = f
	go c.followLoop(f, interval)
}

// StopFollow signals the loop to exit, wakes any sleep, and waits for it.
// Safe to call when no loop is running.
func (c *Client) StopFollow() {
	c.followMu.Lock()
	defer c.followMu.Unlock()
	c.stopFollowLocked()
}

func (c *Client) stopFollowLocked() {
	if c.follow == nil {
		return
	}
	close(c.follow.stop)
	<-c.follow.done
	c.follow = nil
}

func (c *Client) followLoop(f *follower, interval time.Duration) {
	defer close(f.done)

	backoff := interval
	if backoff < followMinBackoff {
		backoff = followMinBackoff
	}

	for {
		select {
		case <-f.stop:
			return
		default:
		}

		sleep := interval
		if err := c.PollOnce(context.Background()); err != nil {
			if c.logs != nil {
				c.logs.Log("warn", "follow poll failed", map[string]any{"error": err.Error()})
			}
			sleep = backoff
		}

		timer := time.NewTimer(sleep)
		select {
		case <-f.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
