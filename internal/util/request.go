package util

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// requestSeq numbers processed intents for log correlation only.
var requestSeq atomic.Uint64

// RequestID correlates the log lines and stored attempt of one intent
// against one service.
type RequestID struct {
	Seq       uint64
	AttemptID string
}

// NewRequestID returns the next sequence number paired with a fresh UUID.
func NewRequestID() RequestID {
	return RequestID{Seq: requestSeq.Add(1), AttemptID: uuid.NewString()}
}

func (r RequestID) String() string {
	return strconv.FormatUint(r.Seq, 10) + "/" + r.AttemptID
}
