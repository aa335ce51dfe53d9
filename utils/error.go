package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorLockNotObtained is returned when another writer holds a ledger lock.
var ErrorLockNotObtained = errors.New("could not obtain lock")
