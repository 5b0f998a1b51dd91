// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package badger

import (
	"escrowmarket.org/escrowd/escrow"
	"github.com/dgraph-io/badger/v4"
)

// badgerLoggerWrapper wraps escrow.Logger and translates Warnf to Warningf
// to satisfy badger.Logger. It also lowers the log level of Infof to Debugf
// and Debugf to Tracef.
type badgerLoggerWrapper struct {
	escrow.Logger
}

var _ badger.Logger = (*badgerLoggerWrapper)(nil)

// Debugf -> escrow.Logger.Tracef
func (log *badgerLoggerWrapper) Debugf(s string, a ...any) {
	log.Tracef(s, a...)
}

// Infof -> escrow.Logger.Debugf
func (log *badgerLoggerWrapper) Infof(s string, a ...any) {
	log.Debugf(s, a...)
}

// Warningf -> escrow.Logger.Warnf
func (log *badgerLoggerWrapper) Warningf(s string, a ...any) {
	log.Warnf(s, a...)
}
