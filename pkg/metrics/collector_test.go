package metrics

import (
	"context"
	"testing"
	"time"
)

type fakeProvider struct {
	stats []GroupStats
	calls int
}

func (f *fakeProvider) GroupStats() []GroupStats {
	f.calls++
	return f.stats
}

func TestCollectorCollectsOnStart(t *testing.T) {
	fp := &fakeProvider{stats: []GroupStats{{Group: "rbl", Total: 3.5, Count: 2}}}
	c := NewCollector(fp, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	// allow the initial synchronous collect() call to run
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	if fp.calls == 0 {
		t.Fatalf("expected GroupStats to be polled at least once")
	}
}

func TestCollectorStop(t *testing.T) {
	fp := &fakeProvider{}
	c := NewCollector(fp, time.Millisecond)

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	c.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
}
