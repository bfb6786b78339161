package ledger

import (
	// Local Packages
	errors "kirana-ledger/errors"
)

var (
	// ErrNotFound is returned by Lookup when the ledger holds no entry for a key.
	ErrNotFound = errors.E(errors.NotFound, "ledger entry not found", nil)

	// ErrOutcomeUnknown marks a call that timed out; the write may or may not have landed.
	ErrOutcomeUnknown = errors.New("ledger call outcome unknown")

	// ErrDuplicateKey is returned by ledgers that reject a key they already recorded.
	ErrDuplicateKey = errors.New("ledger key already recorded")

	// ErrUnregistered is returned for shopkeepers without a ledger account.
	ErrUnregistered = errors.New("account not registered on ledger")
)

func Transient(msg string, err error) error {
	return errors.E(errors.TransientLedger, msg, err)
}

func Permanent(msg string, err error) error {
	return errors.E(errors.PermanentLedger, msg, err)
}

func IsTransient(err error) bool { return errors.IsKind(err, errors.TransientLedger) }

func IsPermanent(err error) bool { return errors.IsKind(err, errors.PermanentLedger) }

func IsNotFound(err error) bool { return errors.IsKind(err, errors.NotFound) }

// IsOutcomeUnknown reports whether err came from a call whose effect is unknown.
func IsOutcomeUnknown(err error) bool { return errors.Is(err, ErrOutcomeUnknown) }
