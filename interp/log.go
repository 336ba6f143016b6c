package interp

import "github.com/golang/glog"

// debugLog gates internal state-transition tracing behind the Driver's
// debug option, routed through glog's leveled verbosity instead of a
// bespoke logger.
func (d *Driver) debugLog(format string, args ...interface{}) {
	if !d.opt.Debug {
		return
	}
	glog.V(1).Infof(format, args...)
}

func (d *Driver) verboseLog(format string, args ...interface{}) {
	if !d.opt.Verbose {
		return
	}
	glog.V(2).Infof(format, args...)
}
