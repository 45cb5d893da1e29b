// Package dlog configures the logrus logger shared by every dataservd
// subsystem, grounded on docker/distribution's registry.configureLogging
// and its per-request *logrus.Entry convention (context.go), adapted here
// to a per-component entry instead of a per-HTTP-request one.
package dlog

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

// Configure sets the shared logger's level and formatter. level is a
// logrus level name ("debug", "info", "warning", ...); format is
// "text" or "json" (empty means text). An unrecognized level or format
// is returned as an error.
func Configure(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("dlog: invalid log level %q: %w", level, err)
	}
	base.SetLevel(lvl)

	switch format {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("dlog: invalid log format %q", format)
	}
	base.SetOutput(os.Stderr)
	return nil
}

// For returns a logger entry tagged with the given component name
// ("broker", "negotiate", "dataset", "wire", ...).
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}
