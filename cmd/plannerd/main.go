// Package main provides the plannerd daemon: a local-first planner
// core exposing sync, reminders and preloading to UI clients over
// localhost WebSocket.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
