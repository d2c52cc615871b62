// Package logging is the engine's warn/debug shim. The teacher logs
// straight to stdout from the hot path (see pcap/pcap.go's "%d flushed, %d
// closed" print); this package keeps that texture instead of reaching for a
// structured-logging library the teacher never used, while giving call
// sites the same Warnf/Debugf shape as the original Rust warn!/debug!
// macros that original_source used throughout analyzer.rs.
package logging

import (
	"log"
	"os"
)

var std = log.New(os.Stderr, "", log.LstdFlags)

// Debug is off by default; analyzer.WithDebugLog turns it on.
var Debug = false

func Warnf(format string, args ...interface{}) {
	std.Printf("WARN "+format, args...)
}

func Debugf(format string, args ...interface{}) {
	if !Debug {
		return
	}
	std.Printf("DEBUG "+format, args...)
}
