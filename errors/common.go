package errors

import "fmt"

func InvalidBodyErr(err error) error {
	return E(Invalid, "invalid request body", err)
}

func ValidationFailedErr(err error) error {
	return E(Invalid, "validation failed", err)
}

func EmptyParamErr(field string) error {
	ve := ValidationErrs()
	ve.Add(field, "cannot be empty")
	return E(Invalid, "validation failed", ve.Err())
}

func NotFoundErr(what, id string) error {
	return E(NotFound, fmt.Sprintf("%s %s", what, id), nil)
}

// ConflictErr returns a formatted error for an optimistic version check
func ConflictErr(shopkeeperID string, version int64, err error) error {
	return E(ConcurrencyConflict, fmt.Sprintf("aggregate %s at version %d is stale", shopkeeperID, version), err)
}

// TransitionErr is returned when an event is not in a state the requested move starts from
func TransitionErr(eventID, from, to string) error {
	return E(Conflict, fmt.Sprintf("event %s cannot move from %s to %s", eventID, from, to), nil)
}

// ExhaustedRetriesErr reports an event that used up its submission attempts
func ExhaustedRetriesErr(eventID string, attempts int) error {
	return E(ExhaustedRetries, fmt.Sprintf("event %s gave up after %d attempts", eventID, attempts), nil)
}
