/*
Package dsl provides a Go DSL for programmatically constructing weft graphs.

It lets developers define workflow graphs with a fluent builder instead of
YAML files. This is particularly useful for generated graphs, unit tests
and IDE autocompletion.

Example usage:

	package main

	import (
		"github.com/aretw0/weft/pkg/dsl"
	)

	func main() {
		b := dsl.New("review")

		b.Agent("writer").
			Role("Draft a release note.").
			Provider("echo").
			To("review")

		b.Human("review").
			Role("Approve the draft or ask for changes.").
			To("gate")

		b.LoopCounter("gate", 3).
			To("writer")

		b.Start("writer")
		b.End("review")

		// The graph can be passed to Engine.RunGraph, or the builder used
		// as a ports.GraphLoader through Loader.
		g, err := b.Build()
		...
	}
*/
package dsl
