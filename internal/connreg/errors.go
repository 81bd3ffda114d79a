package connreg

import "errors"

// ErrNotBound is returned by Send when the connection id is unknown —
// typically because the client disconnected and the transport already
// called Unbind.
var ErrNotBound = errors.New("connreg: connection not bound")
