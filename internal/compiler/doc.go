// Package compiler turns a model.Descriptor into a deployable model.Record.
//
// Compilation is all-or-nothing: removal flags are applied, configurations are
// merged, every surviving node is placed through the runtime mapping, loops are
// expanded into ordinary links and, finally, links are validated and
// materialized. A link whose endpoints sit on different runtimes is replaced by
// a pair of connectors sharing a transport resource named
//
//	/zf/data/{flow}/{instance}/{node}/{output}
//
// Senders are shared per resource so one output can fan out to several remote
// inputs; receivers are created per destination.
package compiler
