package delegate

import "strings"

// Available returns the delegates linked into this build, in claim-priority
// order: the accelerator path is offered subgraphs before the vector engine.
func Available() []Delegate {
	var out []Delegate
	if d := newAccel(); d != nil {
		out = append(out, d)
	}
	if d := newVector(); d != nil {
		out = append(out, d)
	}
	return out
}

// Names returns a comma-separated list of linked delegates, for version and
// inspect output.
func Names() string {
	ds := Available()
	if len(ds) == 0 {
		return "none"
	}
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Name()
	}
	return strings.Join(names, ",")
}
