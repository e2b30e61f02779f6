// Package model holds the portable and the compiled shapes of a dataflow.
//
// A Descriptor is what users write: nodes, links, loops, an optional mapping of
// nodes to runtimes and optional removal flags. A Record is what the compiler
// produces from a Descriptor and a fresh instance identifier: every node is
// placed on a runtime, cross-runtime links are split through connector pairs
// and loops are expanded into ordinary links. Records encode to YAML and JSON.
package model
