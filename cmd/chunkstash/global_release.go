//go:build !debug
// +build !debug

package main

// runDebug is a no-op without the debug build tag.
func runDebug() error {
	return nil
}
