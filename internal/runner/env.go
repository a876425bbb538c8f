package runner

import (
	"os"
	"strings"
)

// mergeEnv layers environment maps left to right, later layers winning. The
// step env assembly relies on this ordering: workflow < job < matrix <
// exported < step.
func mergeEnv(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// prependPath builds a PATH value that puts dirs ahead of the inherited
// search path. Actions use this to make an exported interpreter shim win.
func prependPath(dirs []string) string {
	parts := append([]string(nil), dirs...)
	if inherited := os.Getenv("PATH"); inherited != "" {
		parts = append(parts, inherited)
	}
	return strings.Join(parts, string(os.PathListSeparator))
}
