// Package analyzer is the engine's facade: construct one with New, feed it
// frames with HandlePacket, and call Close when the capture ends to drain
// whatever TCP reassembly state is still pending. The Option/Options
// functional-options pattern is lifted directly from the teacher's
// pcap/option.go, generalized from pcap-specific knobs (snaplen, BPF
// filter) to this engine's own (reassembly timeouts, debug logging).
package analyzer

import "time"

// Options configures an Analyzer.
type Options struct {
	tcpTimeout  time.Duration
	fragTimeout time.Duration
	debugLog    bool
	doChecksums bool
}

func defaultOptions() Options {
	return Options{
		tcpTimeout:  120 * time.Second,
		fragTimeout: 30 * time.Second,
		doChecksums: true,
	}
}

// Option mutates an Options during construction.
type Option func(*Options)

// WithTCPTimeout overrides how long an idle TCP stream is tracked before
// being force-closed.
func WithTCPTimeout(d time.Duration) Option {
	return func(o *Options) { o.tcpTimeout = d }
}

// WithFragmentTimeout overrides how long a partial IP datagram is buffered
// waiting for the rest of its fragments.
func WithFragmentTimeout(d time.Duration) Option {
	return func(o *Options) { o.fragTimeout = d }
}

// WithDebugLog turns on verbose per-packet debug logging.
func WithDebugLog() Option {
	return func(o *Options) { o.debugLog = true }
}

// WithChecksums overrides whether IPv4/ICMPv4/ICMPv6 header checksums are
// validated (default true). Disabling it only suppresses the mismatch
// warning; it never changes which packets get delivered to plugins.
func WithChecksums(enabled bool) Option {
	return func(o *Options) { o.doChecksums = enabled }
}
