// Package dblock serialises packages whose tests share one PostgreSQL database.
package dblock

import (
	"net"
	"os"
	"time"
)

const defaultLockAddr = "127.0.0.1:45432"

// Acquire blocks until this process holds the cross-process test lock and returns its release func.
// The lock is a bound TCP port; LEDGER_TEST_LOCK_ADDR overrides the address.
func Acquire() func() {
	addr := os.Getenv("LEDGER_TEST_LOCK_ADDR")
	if addr == "" {
		addr = defaultLockAddr
	}
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { _ = ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
