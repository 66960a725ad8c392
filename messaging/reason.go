package messaging

import "strconv"

// ReasonCode is the completion reason a queue manager reports for a failed call.
// Transports translate their native error codes into this set.
type ReasonCode int32

const (
	ReasonNone                  ReasonCode = 0
	ReasonConnectionBroken      ReasonCode = 2009
	ReasonMessageTooBig         ReasonCode = 2030
	ReasonNoMessageAvailable    ReasonCode = 2033
	ReasonNotAuthorized         ReasonCode = 2035
	ReasonObjectInUse           ReasonCode = 2042
	ReasonQueueManagerNameError ReasonCode = 2058
	ReasonUnknownObjectName     ReasonCode = 2085
	ReasonResourceProblem       ReasonCode = 2102
	ReasonUnexpectedError       ReasonCode = 2195
	ReasonHostNotAvailable      ReasonCode = 2538
)

var reasonNames = map[ReasonCode]string{
	ReasonNone:                  "NONE",
	ReasonConnectionBroken:      "CONNECTION_BROKEN",
	ReasonMessageTooBig:         "MSG_TOO_BIG",
	ReasonNoMessageAvailable:    "NO_MSG_AVAILABLE",
	ReasonNotAuthorized:         "NOT_AUTHORIZED",
	ReasonObjectInUse:           "OBJECT_IN_USE",
	ReasonQueueManagerNameError: "Q_MGR_NAME_ERROR",
	ReasonUnknownObjectName:     "UNKNOWN_OBJECT_NAME",
	ReasonResourceProblem:       "RESOURCE_PROBLEM",
	ReasonUnexpectedError:       "UNEXPECTED_ERROR",
	ReasonHostNotAvailable:      "HOST_NOT_AVAILABLE",
}

func (r ReasonCode) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return "REASON_" + strconv.Itoa(int(r))
}

// Retryable reports whether a call that failed with this reason may succeed
// if repeated unchanged. Authorization and naming problems never do.
func (r ReasonCode) Retryable() bool {
	switch r {
	case ReasonNotAuthorized, ReasonQueueManagerNameError, ReasonUnknownObjectName, ReasonMessageTooBig:
		return false
	}
	return true
}
