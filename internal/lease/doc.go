// Package lease hands out backlog items to operators under time-bounded
// exclusive leases.
//
// Manager implements acquire-next, renew, release, skip and completion on top
// of the backlog store's compare-and-set updates; Selector decides which
// claimable item comes next; Registry reports per-session occupancy. Expiry
// is lazy: nothing sweeps leases in the background. A lease whose last
// renewal is older than the TTL is treated as free by every operation that
// looks at it, including Registry.Status.
package lease
