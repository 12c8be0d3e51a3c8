package epoch

import "fmt"

// InvalidStateError reports an operation called outside its legal states.
// The common case is open() while a cycle is already in flight, which
// callers should surface as "busy" rather than queueing.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("epoch: %s not valid in state %s", e.Op, e.State)
}

// IsBusy reports whether err is an open() rejected because a cycle is
// already in flight.
func IsBusy(err error) bool {
	se, ok := err.(*InvalidStateError)
	return ok && se.Op == "open"
}
