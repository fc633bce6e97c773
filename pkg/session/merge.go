package session

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// MergeFunc folds the payloads of one session, in arrival order, into a
// single artifact.
type MergeFunc func(parts [][]byte) ([]byte, error)

// Merge strategy names accepted by MergeByName.
const (
	MergeOBJ    = "obj"
	MergeConcat = "concat"
)

// MergeByName resolves a configured merge strategy.
func MergeByName(name string) (MergeFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case MergeOBJ, "":
		return MergeMeshes, nil
	case MergeConcat:
		return Concat, nil
	default:
		return nil, fmt.Errorf("session: unknown merge strategy %q", name)
	}
}

// Concat joins payloads back to back.
func Concat(parts [][]byte) ([]byte, error) {
	return bytes.Join(parts, nil), nil
}

// MergeMeshes merges independently indexed OBJ fragments into one mesh.
// Vertex lines are kept verbatim. Face references of each fragment are
// shifted by the number of vertices merged before that fragment; texture
// and normal sub-indices and relative (negative) references are left
// alone. A face line with a malformed reference is skipped and logged.
func MergeMeshes(parts [][]byte) ([]byte, error) {
	out, skipped := mergeOBJ(parts)
	if skipped > 0 {
		zap.L().Warn("skipped malformed face lines during merge", zap.Int("lines", skipped))
	}
	return out, nil
}

func mergeOBJ(parts [][]byte) ([]byte, int) {
	var vertices, faces []string
	offset, skipped := 0, 0
	for _, p := range parts {
		lines := strings.FieldsFunc(string(p), func(r rune) bool { return r == '\n' || r == '\r' })
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, "v "):
				vertices = append(vertices, line)
			case strings.HasPrefix(line, "f "):
				f, err := shiftFace(line, offset)
				if err != nil {
					zap.L().Debug("skipping face", zap.String("line", line), zap.Error(err))
					skipped++
					continue
				}
				faces = append(faces, f)
			}
		}
		offset = len(vertices)
	}
	var b strings.Builder
	for _, v := range vertices {
		b.WriteString(v)
		b.WriteByte('\n')
	}
	for _, f := range faces {
		b.WriteString(f)
		b.WriteByte('\n')
	}
	return []byte(b.String()), skipped
}

// shiftFace rewrites "f a[/t[/n]] ..." with every positive vertex index
// increased by offset.
func shiftFace(line string, offset int) (string, error) {
	refs := strings.Fields(line)[1:]
	if len(refs) == 0 {
		return "", fmt.Errorf("face without references")
	}
	out := make([]string, 0, len(refs)+1)
	out = append(out, "f")
	for _, ref := range refs {
		head, rest, _ := strings.Cut(ref, "/")
		idx, err := strconv.Atoi(head)
		if err != nil || idx == 0 {
			return "", fmt.Errorf("bad vertex reference %q", ref)
		}
		if idx > 0 {
			idx += offset
		}
		s := strconv.Itoa(idx)
		if strings.Contains(ref, "/") {
			s += "/" + rest
		}
		out = append(out, s)
	}
	return strings.Join(out, " "), nil
}
