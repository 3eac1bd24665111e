package dashboard

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	testutil "github.com/xtxerr/ebismon/internal/testing"
)

func TestPoller_DropsFigureOnFailure(t *testing.T) {
	var fail atomic.Bool
	p := NewPoller(time.Hour, func(context.Context) (Figure, error) {
		if fail.Load() {
			return Figure{}, errors.New("store unavailable")
		}
		return Figure{Layout: Layout{Title: "Currents"}}, nil
	})

	if _, ok := p.Current(); ok {
		t.Fatal("no figure before the first poll")
	}

	p.Poll(context.Background())
	if fig, ok := p.Current(); !ok || fig.Layout.Title != "Currents" {
		t.Fatalf("expected the polled figure, got %+v (ok=%v)", fig, ok)
	}

	fail.Store(true)
	p.Poll(context.Background())
	if _, ok := p.Current(); ok {
		t.Error("a failed poll must not leave the previous figure in place")
	}

	fail.Store(false)
	p.Poll(context.Background())
	if _, ok := p.Current(); !ok {
		t.Error("a successful poll must restore the figure")
	}

	if st := p.Stats(); st.Polls != 3 || st.Failures != 1 {
		t.Errorf("stats: got %+v", st)
	}
}

func TestPoller_StaleFigure(t *testing.T) {
	p := NewPoller(10*time.Millisecond, func(context.Context) (Figure, error) {
		return Figure{}, nil
	})
	p.Poll(context.Background())

	time.Sleep(15 * time.Millisecond)
	if _, ok := p.Current(); ok {
		t.Error("a figure older than one interval must not be served")
	}
}

func TestPoller_Run(t *testing.T) {
	var builds atomic.Int64
	p := NewPoller(time.Millisecond, func(context.Context) (Figure, error) {
		builds.Add(1)
		return Figure{}, nil
	})

	gt := testutil.NewGoroutineTest(t)
	gt.GoWithContext(p.Run)

	err := testutil.Eventually(time.Second, time.Millisecond, func() bool {
		return builds.Load() >= 3
	})
	gt.Cancel()
	gt.Wait()

	if err != nil {
		t.Fatalf("poller did not tick: %v", err)
	}
}
