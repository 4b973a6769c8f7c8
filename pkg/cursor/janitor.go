package cursor

import (
	"sync"
	"time"
)

// janitor runs sweep on a ticker until stopped.
type janitor struct {
	ticker *time.Ticker
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func startJanitor(every time.Duration, sweep func(now time.Time)) *janitor {
	if every <= 0 {
		every = time.Minute
	}
	j := &janitor{
		ticker: time.NewTicker(every),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(j.done)
		for {
			select {
			case now := <-j.ticker.C:
				sweep(now)
			case <-j.stop:
				return
			}
		}
	}()
	return j
}

// Stop ends the sweep goroutine and waits for it. Safe to call repeatedly
// and on a nil janitor.
func (j *janitor) Stop() {
	if j == nil {
		return
	}
	j.once.Do(func() {
		close(j.stop)
		<-j.done
		j.ticker.Stop()
	})
}
