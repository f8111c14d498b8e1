// cmdsched - Entry Point
//
// cmdsched reads a file of command specifications and runs each command at
// its scheduled time through the host shell. Two kinds of line are accepted:
//
//	*/15 /usr/local/bin/rotate-logs     recurring, every 15 minutes
//	30 17 24 12 2026 echo done          one-time, at 17:30 on 24 Dec 2026
//
// Configuration is loaded from /etc/cmdsched/config.yaml (or the path given
// by --config). A missing configuration file means defaults.
//
// Lifecycle of `cmdsched run`:
//  1. Load configuration and set up the structured logger
//  2. Read, parse and plan the commands file (rejections are logged, not fatal)
//  3. Notify systemd that the service is ready and start the watchdog
//  4. Dispatch commands until SIGTERM/SIGINT, reloading on file changes if enabled
//  5. Notify systemd that the service is stopping
//  6. Coordinated shutdown: drain in-flight commands, then close the journal
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
