package store

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger sets the package-wide logger used by the offer/demand store.
func UseLogger(logger btclog.Logger) {
	log = logger
}
