// Command holobridge-genframe writes sample wire frames, one file per
// frame, for every codec: a start signal, a small OBJ split into chunks,
// and a stop signal.
package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"holobridge/pkg/protocol"
	"holobridge/pkg/protocol/codec"
)

const sampleOBJ = "v 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n"

func main() {
	outDir := pflag.String("out", "testdata/frames", "output directory for binary frames")
	chunk := pflag.Int("chunk", 16, "max chunk bytes")
	pflag.Parse()
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal(err)
	}

	reg, err := codec.NewRegistry()
	if err != nil {
		log.Fatal(err)
	}
	chunks, err := protocol.Split([]byte(sampleOBJ), *chunk, true)
	if err != nil {
		log.Fatal(err)
	}
	packets := []protocol.Packet{protocol.NewControl(true, protocol.ChannelMesh)}
	packets = append(packets, protocol.NewTransfer(protocol.NewPacketID(), protocol.ChannelMesh, chunks)...)
	packets = append(packets, protocol.NewControl(false, protocol.ChannelMesh))

	for _, name := range reg.Names() {
		c := reg.Get(name)
		for i, p := range packets {
			frame, err := protocol.EncodePacket(c, p)
			if err != nil {
				log.Fatalf("%s: %v", name, err)
			}
			writeOut(*outDir, fmt.Sprintf("%s_%02d_%s.bin", name, i, label(p)), frame)
		}
	}
	fmt.Println("Generated frames in", *outDir)
}

func label(p protocol.Packet) string {
	if p.IsControl() {
		return p.ID
	}
	return fmt.Sprintf("chunk%d", p.Chunk.SequenceNumber)
}

func writeOut(dir, name string, b []byte) {
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, b, 0o644); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%-28s %5d bytes  head: %s\n", name, len(b), shortHex(b, 32))
}

func shortHex(b []byte, n int) string {
	if len(b) == 0 {
		return ""
	}
	n = min(n, len(b))
	enc := hex.EncodeToString(b[:n])
	if len(b) > n {
		enc += "..."
	}
	var out []string
	for i := 0; i < len(enc); i += 4 {
		out = append(out, enc[i:min(i+4, len(enc))])
	}
	return strings.Join(out, " ")
}
