package events_test

import (
	"errors"
	"testing"

	"github.com/aescanero/evalpipe/pkg/adapters/events"
	"github.com/maxatome/go-testdeep/td"
)

func TestLedger(t *testing.T) {
	t.Run("counts and completes", func(t *testing.T) {
		l := events.NewLedger()
		for _, g := range []string{"A", "A", "B", "C"} {
			ok, err := l.Reserve(g)
			td.Require(t).CmpNoError(err)
			td.Require(t).True(ok)
		}

		count, err := l.CompleteGroup("A")
		td.CmpNoError(t, err)
		td.Cmp(t, count, 2)

		_, err = l.CompleteGroup("A")
		td.CmpTrue(t, errors.Is(err, events.ErrGroupComplete))

		_, err = l.Reserve("A")
		td.CmpTrue(t, errors.Is(err, events.ErrGroupComplete))

		open, total, err := l.CompletePublication()
		td.CmpNoError(t, err)
		td.Cmp(t, open, map[string]int{"B": 1, "C": 1})
		td.Cmp(t, total, 4)

		_, err = l.Reserve("D")
		td.CmpTrue(t, errors.Is(err, events.ErrPublicationComplete))
	})

	t.Run("release", func(t *testing.T) {
		l := events.NewLedger()
		_, _ = l.Reserve("A")
		l.Release("A")
		l.Release("A")

		td.Cmp(t, l.Total(), 0)
	})

	t.Run("stop refuses messages", func(t *testing.T) {
		l := events.NewLedger()
		cause := errors.New("pool failed")

		td.CmpTrue(t, l.Stop(cause))
		td.CmpFalse(t, l.Stop(errors.New("later")))

		ok, err := l.Reserve("A")
		td.CmpNoError(t, err)
		td.CmpFalse(t, ok)
		stopped, why := l.Stopped()
		td.CmpTrue(t, stopped)
		td.Cmp(t, why, cause)
	})

	t.Run("close", func(t *testing.T) {
		l := events.NewLedger()
		td.CmpTrue(t, l.Close())
		td.CmpFalse(t, l.Close())

		_, err := l.Reserve("A")
		td.CmpTrue(t, errors.Is(err, events.ErrBusClosed))
	})
}
