package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// Options holds CLI options for the sink.
type Options struct {
	ConfigPath string
	Listen     string
	Scheme     string
	OutputDir  string
	NoEcho     bool
}

// ParseFlags parses CLI flags from args and returns Options. Empty values
// leave the configuration untouched.
func ParseFlags(args []string) Options {
	fs := pflag.NewFlagSet("holobridge-sink", pflag.ContinueOnError)
	var opts Options
	fs.StringVarP(&opts.ConfigPath, "config", "c", "", "Path to YAML config file")
	fs.StringVar(&opts.Listen, "listen", "", "Listen address (overrides sink.listen)")
	fs.StringVar(&opts.Scheme, "scheme", "", "Listener scheme: ws, tcp, quic, pipe (overrides sink.scheme)")
	fs.StringVarP(&opts.OutputDir, "out", "o", "", "Directory for received artifacts (overrides sink.output_dir)")
	fs.BoolVar(&opts.NoEcho, "no-echo", false, "Do not send merged artifacts back to the producer")
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return opts
}
