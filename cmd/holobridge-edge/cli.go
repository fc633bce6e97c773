package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
)

// Options holds CLI options for the edge.
type Options struct {
	ConfigPath string
	Channel    string
	EchoDir    string
	Linger     time.Duration
	Files      []string
}

// ParseFlags parses CLI flags; positional arguments are the files to send.
func ParseFlags(args []string) Options {
	fs := pflag.NewFlagSet("holobridge-edge", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: holobridge-edge [flags] FILE...\n")
		fs.PrintDefaults()
	}
	var opts Options
	fs.StringVarP(&opts.ConfigPath, "config", "c", "", "Path to YAML config file")
	fs.StringVar(&opts.Channel, "channel", "", "Channel to send on (default: mesh for .obj files, hands otherwise)")
	fs.StringVar(&opts.EchoDir, "echo-dir", "", "Directory for artifacts echoed by the sink (overrides edge.echo_dir)")
	fs.DurationVar(&opts.Linger, "linger", 10*time.Second, "How long to wait for echoes after sending; 0 exits once queues drain")
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	opts.Files = fs.Args()
	return opts
}
