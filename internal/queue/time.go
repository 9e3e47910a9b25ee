package queue

import "time"

// timeNow is a package-level variable for testability.
var timeNow = func() time.Time { return time.Now().UTC() }
