// Command holobridge-edge sends files to a sink as start/stop sessions
// and stores what the sink echoes back.
package main

import "os"

func main() {
	os.Exit(run(ParseFlags(os.Args[1:])))
}
