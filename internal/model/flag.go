package model

// FlagDescriptor groups nodes under a switch. Nodes of a flag whose Toggle is
// false are removed from the compiled record, along with every link touching them.
type FlagDescriptor struct {
	ID     string   `json:"id" yaml:"id"`
	Toggle bool     `json:"toggle" yaml:"toggle"`
	Nodes  []NodeID `json:"nodes" yaml:"nodes"`
}

// NodesToRemove collects the nodes disabled by the given flags.
func NodesToRemove(flags []FlagDescriptor) map[NodeID]struct{} {
	removed := make(map[NodeID]struct{})
	for _, f := range flags {
		if f.Toggle {
			continue
		}
		for _, n := range f.Nodes {
			removed[n] = struct{}{}
		}
	}
	return removed
}
