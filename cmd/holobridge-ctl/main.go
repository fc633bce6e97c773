// Command holobridge-ctl inspects a running sink and decodes captured
// wire frames.
//
//	holobridge-ctl health --addr 127.0.0.1:8080
//	holobridge-ctl decode --codec msgpack testdata/frames/msgpack_*.bin
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"

	"holobridge/pkg/protocol"
	"holobridge/pkg/protocol/codec"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "health":
		err = health(os.Args[2:])
	case "decode":
		err = decode(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: holobridge-ctl health|decode [flags] [FILE...]")
}

func health(args []string) error {
	fs := pflag.NewFlagSet("health", pflag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:8080", "sink websocket listen address")
	timeout := fs.Duration("timeout", 5*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+*addr+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("sink unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sink unhealthy: %s", resp.Status)
	}
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

func decode(args []string) error {
	fs := pflag.NewFlagSet("decode", pflag.ContinueOnError)
	name := fs.String("codec", "msgpack", "wire codec: msgpack, cbor, json, proto")
	if err := fs.Parse(args); err != nil {
		return err
	}
	reg, err := codec.NewRegistry()
	if err != nil {
		return err
	}
	c := reg.Get(*name)
	if c == nil {
		return fmt.Errorf("unknown codec %q (have %v)", *name, reg.Names())
	}
	for _, path := range fs.Args() {
		frame, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		p, err := protocol.DecodePacket(c, frame)
		if err != nil {
			fmt.Printf("%s: %v\n", path, err)
			continue
		}
		fmt.Printf("%s: id=%s channel=%s ts=%s chunk=%d/%d bytes=%d\n",
			path, p.ID, p.Channel, p.Timestamp.Format(time.RFC3339Nano),
			p.Chunk.SequenceNumber, p.Chunk.TotalChunks, len(p.Chunk.Data))
	}
	return nil
}
