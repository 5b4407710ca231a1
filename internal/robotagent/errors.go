package robotagent

import "errors"

var errExecutorPanic = errors.New("robotagent: executor panicked")
