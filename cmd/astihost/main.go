// Command astihost is a minimal reference host for the goasti Driver: it
// loads an encoded ASTP file, drives a Driver to completion answering
// every hardware read with zero, and prints the resulting command
// records as JSON. It is not "the" host
// application — real hosts own their own I/O loop and response policy —
// it is a runnable front end over the library, useful for manual
// smoke-testing a program file.
package main

import (
	"encoding/json"
	"flag"
	"os"

	"github.com/golang/glog"
	"golang.org/x/mod/semver"

	"github.com/sfranzyshen/goasti/interp"
)

var (
	astFile   = flag.String("ast", "", "path to an encoded ASTP file")
	version   = flag.String("version", "v0.0.0", "VERSION_INFO.version reported by the run")
	syncMode  = flag.Bool("sync", true, "run in Inline (synchronous) mode")
	maxLoops  = flag.Uint("max-loop-iterations", 1, "cap on loop() iterations; 0 disables the cap entirely")
	verbose   = flag.Bool("verbose", false, "emit FUNCTION_CALL records")
	debugFlag = flag.Bool("debug", false, "trace internal state transitions")
)

func main() {
	flag.Parse()
	if *astFile == "" {
		glog.Exit("astihost: -ast is required")
	}
	if !semver.IsValid(*version) {
		glog.Exitf("astihost: %q is not a valid semantic version", *version)
	}

	astBytes, err := os.ReadFile(*astFile)
	if err != nil {
		glog.Exitf("astihost: reading %s: %v", *astFile, err)
	}

	loopCap := uint32(*maxLoops)
	if loopCap == 0 {
		loopCap = interp.NoLoopLimit
	}

	opts := interp.Options{
		SyncMode:          *syncMode,
		MaxLoopIterations: loopCap,
		Verbose:           *verbose,
		Debug:             *debugFlag,
		VersionString:     *version,
	}
	if opts.SyncMode {
		opts.InlineReader = cannedReader
	}

	d, err := interp.New(astBytes, opts)
	if err != nil {
		glog.Exitf("astihost: %v", err)
	}
	if err := d.Start(); err != nil {
		glog.Exitf("astihost: %v", err)
	}
	for d.State() != interp.StateComplete && d.State() != interp.StateError {
		if d.IsWaitingForResponse() {
			id, _ := d.WaitingRequestID()
			if err := d.Resume(id, interp.IntValue(0)); err != nil {
				glog.Exitf("astihost: resume: %v", err)
			}
			continue
		}
		d.Tick()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d.TakeCommands()); err != nil {
		glog.Exitf("astihost: %v", err)
	}
	if d.State() == interp.StateError {
		glog.Errorf("astihost: program ended with error: %v", d.LastError())
		os.Exit(1)
	}
}

// cannedReader answers every hardware read with zero; a host wanting
// scripted responses can swap this for a table keyed by requestType.
func cannedReader(requestType string, args []interp.Value) (interp.Value, error) {
	return interp.IntValue(0), nil
}
