package service

import "errors"

var (
	// bad operator input or non finite sample values
	ErrValidation = errors.New("validation error")
	// battery index outside the configured battery count
	ErrRange = errors.New("battery index out of range")
	// the ledger did not answer within the control timeout
	ErrBusy = errors.New("accounting ledger busy")
	// implausible raw counter delta, the whole sample is discarded
	ErrRolloverRejected = errors.New("counter rollover rejected")
	// sample not newer than the last accepted one
	ErrStaleSample = errors.New("stale sample")
)
