/*
Package weft runs workflow graphs: directed, possibly cyclic graphs whose
nodes (agents, human reviewers, python scripts, nested subgraphs and a few
plumbing types) pass multimodal messages along their edges.

# Concept

A graph is data. The Engine loads it, gives every run its own directory
under the warehouse, and hands the nodes a shared run context: the
attachment store, the human prompt service, the structured run log and the
workspace watcher. The scheduler in pkg/graph delivers queued inputs to a
node once every non-back-edge predecessor has settled, so fan-in waits for
its inputs while loops still make progress.

Each run is laid out as

	{warehouse}/{session}/graph/graph.yaml
	{warehouse}/{session}/logs/{log_id}.jsonl
	{warehouse}/{session}/code_workspace/
	{warehouse}/{session}/code_workspace/attachments/attachments_manifest.json

# Usage

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/aretw0/weft"
	)

	func main() {
		engine, err := weft.New("WareHouse")
		if err != nil {
			log.Fatal(err)
		}
		defer engine.Close()

		task := weft.NewTaskInput().
			WithPrompt("Summarize the report").
			AddFile("report.pdf", "quarterly numbers").
			Build()

		res, err := engine.Run(context.Background(), "flows/summarize.yaml", task)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(res.FinalMessage.TextContent())
	}

The cmd/weft binary wraps the same Engine for the terminal (weft run), an
HTTP/SSE server (weft serve) and MCP clients (weft mcp).
*/
package weft
