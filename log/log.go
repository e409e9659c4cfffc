// Package log provides the framework's default structured logger.
//
// The core never dictates a logging facility to embedding applications
// (see spec §1); this package only supplies the default used internally
// by reactor/connection/server/client diagnostics, and the option hooks
// that let an embedder swap it out.
package log

import (
	"os"

	"github.com/zbh255/bilog"
)

// Default is the package-level logger used when a component is not
// configured with an explicit logger via its WithCustomLogger option.
var Default bilog.Logger = bilog.NewLogger(os.Stderr, bilog.PANIC,
	bilog.WithTimes(), bilog.WithCaller(0), bilog.WithLowBuffer(0), bilog.WithTopBuffer(0))
