package payments

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger sets the package-wide logger used by the payments engine.
func UseLogger(logger btclog.Logger) {
	log = logger
}
