package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// Change-request workflow errors. The transport layer maps these to HTTP
// statuses with errors.Is; everything else is a 500-class infrastructure error.
var (
	ErrorForbiddenScope   = errors.New("no access to the requested zone")
	ErrorInvalidState     = errors.New("change request has already been decided")
	ErrorEmptyDiff        = errors.New("diff must contain at least one field")
	ErrorUnknownDiffField = errors.New("diff references a field that is not editable")
)
