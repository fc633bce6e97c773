package codec

import (
	"fmt"
	"sort"
	"strings"
)

// Content types of the built-in codecs.
const (
	ContentMsgpack = "application/msgpack"
	ContentCBOR    = "application/cbor"
	ContentJSON    = "application/json"
	ContentProto   = "application/x-protobuf"
)

// Codec marshals typed values to and from a byte representation.
// Implementations must be deterministic for equal inputs.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps codec names and content types to codecs.
type Registry struct {
	byType  map[string]Codec
	aliases map[string]string
}

// NewRegistry returns a registry preloaded with msgpack, cbor, json and proto.
func NewRegistry() (*Registry, error) {
	r := &Registry{byType: make(map[string]Codec), aliases: make(map[string]string)}
	cb, err := CBOR()
	if err != nil {
		return nil, fmt.Errorf("codec: init cbor: %w", err)
	}
	r.Register("msgpack", Msgpack())
	r.Register("cbor", cb)
	r.Register("json", JSON())
	r.Register("proto", Proto())
	return r, nil
}

// Register adds c under its content type and the short alias name.
func (r *Registry) Register(alias string, c Codec) {
	r.byType[c.ContentType()] = c
	if alias != "" {
		r.aliases[strings.ToLower(alias)] = c.ContentType()
	}
}

// Get returns the codec for a content type or alias, or nil.
func (r *Registry) Get(name string) Codec {
	if c, ok := r.byType[name]; ok {
		return c
	}
	if ct, ok := r.aliases[strings.ToLower(name)]; ok {
		return r.byType[ct]
	}
	return nil
}

// Names lists the registered aliases.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.aliases))
	for k := range r.aliases {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
