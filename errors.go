package topicqueue

import (
	"github.com/domonda/go-errs"
)

const (
	ErrClosed          errs.Sentinel = "store is closed"
	ErrNotFound        errs.Sentinel = "job not found"
	ErrAlreadyClaimed  errs.Sentinel = "job already claimed"
	ErrConcurrentTake  errs.Sentinel = "concurrent take on the same queue"
	ErrSessionFinished errs.Sentinel = "store session already closed"
)
