package httpserver

import "time"

// ShutdownTimeout bounds the graceful stop of the listener and the background
// workers. Open proxy streams are cut when it expires.
var ShutdownTimeout = 15 * time.Second
