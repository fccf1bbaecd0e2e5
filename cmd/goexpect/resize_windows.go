//go:build windows

package main

import "os"

// notifyResize is a no-op: the console has no window-change signal.
func notifyResize(chan<- os.Signal) func() {
	return func() {}
}
