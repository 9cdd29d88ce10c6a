package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aescanero/evalpipe/pkg/adapters/lock/memory"
	"github.com/maxatome/go-testdeep/td"
)

func TestSharedLock(t *testing.T) {
	ctx := context.Background()
	lock := memory.NewSharedLock()

	td.CmpNoError(t, lock.LockShared(ctx))
	td.CmpNoError(t, lock.LockShared(ctx))
	td.Cmp(t, lock.Holders(), 2)

	td.CmpNoError(t, lock.UnlockShared(ctx))
	td.CmpNoError(t, lock.UnlockShared(ctx))
	td.Cmp(t, lock.Holders(), 0)
	td.CmpTrue(t, errors.Is(lock.UnlockShared(ctx), memory.ErrNotLocked))
}

func TestSharedLockCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lock := memory.NewSharedLock()

	td.CmpTrue(t, errors.Is(lock.LockShared(ctx), context.Canceled))
	td.Cmp(t, lock.Holders(), 0)
}
