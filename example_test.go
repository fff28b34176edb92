package weft_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/aretw0/weft"
	"github.com/aretw0/weft/internal/logging"
	"github.com/aretw0/weft/pkg/adapters/memory"
	"github.com/aretw0/weft/pkg/domain"
)

// ExampleNew_memory runs a graph held in memory instead of a YAML file.
func ExampleNew_memory() {
	loader := memory.NewLoader(map[string]*domain.Graph{
		"greeting": {
			Name: "greeting",
			Nodes: []domain.Node{
				{ID: "hello", Type: domain.NodeTypeLiteral, Config: map[string]any{"content": "Hello from memory!"}},
				{ID: "end", Type: domain.NodeTypePassthrough},
			},
			Edges: []domain.Edge{
				{From: "start", To: "hello"},
				{From: "hello", To: "end"},
			},
			EndNodeID: "end",
		},
	})

	warehouse, err := os.MkdirTemp("", "weft-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(warehouse)

	engine, err := weft.New(warehouse, weft.WithLoader(loader), weft.WithLogger(logging.NewNop()))
	if err != nil {
		log.Fatal(err)
	}
	defer engine.Close()

	res, err := engine.Run(context.Background(), "greeting", weft.Prompt("hi"))
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.FinalMessage.TextContent())
	fmt.Println(res.Cancelled)
	// Output:
	// Hello from memory!
	// false
}
