// Package idgen generates short, high-throughput unique identifiers for
// diagnostics: the per-client trace id attached to log lines.
//
// Built on nuid rather than a hex-encoded random byte slice (the
// reference client's NewInbox) because nuid is already a dependency of
// the pack this module is grounded on and is purpose-built for exactly
// this high-frequency, low-collision-risk use case: a global prefix
// reseeded periodically plus a fast incrementing suffix, cheaper per call
// than crypto/rand.
package idgen

import "github.com/nats-io/nuid"

// Generator produces ids. The zero value is not usable; use New.
type Generator struct {
	n *nuid.NUID
}

// New returns a Generator with its own nuid sequence, independent of the
// package-level global nuid.Next() so concurrent Clients don't contend on
// a shared generator.
func New() *Generator {
	return &Generator{n: nuid.New()}
}

// Next returns the next id in the sequence.
func (g *Generator) Next() string {
	return g.n.Next()
}
