package config

import "sync"

// opts is the process-wide configuration, set once at startup and
// mutated in place by the fsnotify-driven hot-reload for the handful
// of fields that are safe to change without a restart (motd,
// signal-error, advertise-version, blur-usage, log level). Reads and
// writes both go through the accessors below so a reload never races
// with a reader.
var (
	optsMu sync.RWMutex
	opts   = DefaultOptions
)

// SetGlobal installs o as the process-wide configuration.
func SetGlobal(o Options) {
	optsMu.Lock()
	defer optsMu.Unlock()
	opts = o
}

// Global returns a copy of the current process-wide configuration.
func Global() Options {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return opts
}

// ReloadRelayFields overwrites only the hot-reloadable Relay fields
// (motd, signal-error, advertise-version, blur-usage) from r, leaving
// the listening port and database paths untouched.
func ReloadRelayFields(r RelayOptions) {
	optsMu.Lock()
	defer optsMu.Unlock()
	opts.Relay.MOTD = r.MOTD
	opts.Relay.SignalError = r.SignalError
	opts.Relay.AdvertiseVersion = r.AdvertiseVersion
	opts.Relay.BlurUsage = r.BlurUsage
}

// ReloadLogLevel overwrites only the log level, leaving the log
// destination untouched.
func ReloadLogLevel(level string) {
	optsMu.Lock()
	defer optsMu.Unlock()
	opts.Logging.Level = level
}
