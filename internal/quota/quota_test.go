// File: internal/quota/quota_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package quota_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hioload/netmgr/internal/quota"
)

func TestAttachBelowSoft(t *testing.T) {
	q := quota.New(4, 4)
	require.Equal(t, quota.Attached, q.Attach(nil))
	require.Equal(t, 1, q.InUse())
}

func TestAttachAtSoftThreshold(t *testing.T) {
	q := quota.New(4, 2)
	q.Attach(nil)
	require.Equal(t, quota.SoftQuota, q.Attach(nil), "want SoftQuota at threshold")
}

func TestAttachExhaustedSuspends(t *testing.T) {
	q := quota.New(1, 1)
	first := q.Attach(nil)
	require.Contains(t, []quota.Result{quota.Attached, quota.SoftQuota}, first, "first attach should succeed")

	fired := false
	r := q.Attach(func() { fired = true })
	require.Equal(t, quota.Suspended, r, "want Suspended when exhausted")
	require.False(t, fired, "callback must not fire before a slot frees")

	q.Detach() // releases the original holder's slot into the waiter
	require.True(t, fired, "callback should fire once a slot frees")
	require.Equal(t, 1, q.InUse(), "transferred slot should stay attached to the waiter")
}

func TestDetachWithoutWaiterReturnsSlot(t *testing.T) {
	q := quota.New(2, 2)
	q.Attach(nil)
	q.Attach(nil)
	q.Detach()
	require.Equal(t, 1, q.InUse())
}

func TestWaiterFIFOOrder(t *testing.T) {
	q := quota.New(1, 1)
	q.Attach(nil)

	var order []int
	q.Attach(func() { order = append(order, 1) })
	q.Attach(func() { order = append(order, 2) })
	q.Attach(func() { order = append(order, 3) })

	require.Equal(t, 3, q.Waiting())

	q.Detach()
	q.Detach()
	q.Detach()

	require.Equal(t, []int{1, 2, 3}, order, "waiter callbacks must fire in FIFO order")
}
