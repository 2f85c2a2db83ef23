// Package lock serialises read-modify-write cycles on individual entities.
//
// Keys name one entity each ("bet:<id>", "user:<id>", ...). Lock sorts and
// deduplicates the keys it is given and acquires them in increasing order,
// so two callers can never wait on each other in a cycle as long as every
// caller asks for all of its keys in one call or follows the same order.
package lock

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrTimeout is returned when a lock could not be obtained before the
// context was done.
var ErrTimeout = errors.New("lock: timed out waiting for lock")

// Locker acquires exclusive locks on a set of keys. The returned unlock
// function releases all of them and is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

// Key helpers.
func BetKey(id string) string      { return "bet:" + id }
func MarketKey(id string) string   { return "market:" + id }
func UserKey(id string) string     { return "user:" + id }
func InviteKey(code string) string { return "invite:" + code }

// DeviceKey guards the (market, device) pair while a user joins.
func DeviceKey(marketID, deviceID string) string {
	return "device:" + marketID + ":" + deviceID
}

// ordered returns keys sorted with duplicates removed.
func ordered(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}

// once wraps release so it runs at most one time, even when called from
// several goroutines.
func once(release func()) func() {
	var o sync.Once
	return func() { o.Do(release) }
}
