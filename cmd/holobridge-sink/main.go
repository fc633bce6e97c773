// Command holobridge-sink receives chunked artifacts, merges start/stop
// sessions and writes the results to disk.
package main

import "os"

func main() {
	os.Exit(run(ParseFlags(os.Args[1:])))
}
