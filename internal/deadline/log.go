package deadline

import "github.com/btcsuite/btclog"

// log is the package-wide logger, disabled by default until UseLogger is
// called. This mirrors the per-package logger convention used throughout
// the corpus (see e.g. invoices.UseLogger).
var log = btclog.Disabled

// UseLogger sets the package-wide logger used by the deadline tracker.
func UseLogger(logger btclog.Logger) {
	log = logger
}
