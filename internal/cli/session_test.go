package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/weft"
)

const echoYAML = `
name: echo
end: done
nodes:
  - id: writer
    type: agent
    config:
      provider: echo
      input_mode: messages
  - id: done
    type: passthrough
edges:
  - {from: start, to: writer}
  - {from: writer, to: done}
`

func setupProject(t *testing.T) (graphDir, configPath, warehouse string) {
	t.Helper()
	root := t.TempDir()
	graphDir = filepath.Join(root, "echo")
	require.NoError(t, os.MkdirAll(graphDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(graphDir, "graph.yaml"), []byte(echoYAML), 0o644))

	warehouse = filepath.Join(root, "WareHouse")
	configPath = filepath.Join(root, "weft.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("warehouse: "+warehouse+"\nlog_level: error\n"), 0o644))
	return graphDir, configPath, warehouse
}

func TestRunSession_JSON(t *testing.T) {
	graphDir, configPath, warehouse := setupProject(t)
	var out bytes.Buffer

	err := Execute(RunOptions{
		GraphRef:    graphDir,
		Prompt:      "ship it",
		SessionName: "cli-test",
		ConfigPath:  configPath,
		JSON:        true,
		Stdin:       bytes.NewReader(nil),
		Stdout:      &out,
	})
	require.NoError(t, err)

	var res weft.WorkflowRunResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.NotNil(t, res.FinalMessage)
	assert.Equal(t, "ship it", res.FinalMessage.TextContent())
	assert.Equal(t, "cli-test", res.MetaInfo.SessionName)
	assert.Equal(t, filepath.Join(warehouse, "cli-test"), res.MetaInfo.OutputDir)
	assert.FileExists(t, filepath.Join(warehouse, "cli-test", weft.GraphDir, weft.GraphSnapshot))
}

func TestRunSession_Quiet(t *testing.T) {
	graphDir, configPath, _ := setupProject(t)
	var out bytes.Buffer

	err := Execute(RunOptions{
		GraphRef:   filepath.Join(graphDir, "graph.yaml"),
		Prompt:     "plain text",
		ConfigPath: configPath,
		Quiet:      true,
		Stdin:      bytes.NewReader(nil),
		Stdout:     &out,
	})
	require.NoError(t, err)
	assert.Equal(t, "plain text\n", out.String())
}

func TestExecute_Validation(t *testing.T) {
	assert.Error(t, Execute(RunOptions{}))
	assert.Error(t, Execute(RunOptions{GraphRef: "x.yaml", Vars: "{not json"}))
	assert.Error(t, Execute(RunOptions{GraphRef: "x.yaml", Watch: true, JSON: true}))
}

func TestRunOptions_Task(t *testing.T) {
	opts := RunOptions{Prompt: "p", Files: []string{"a.txt", "b.pdf = quarterly report"}}
	task := opts.task()
	assert.Equal(t, "p", task.Prompt)
	require.Len(t, task.Files, 2)
	assert.Equal(t, weft.TaskFile{Path: "a.txt"}, task.Files[0])
	assert.Equal(t, weft.TaskFile{Path: "b.pdf", Description: "quarterly report"}, task.Files[1])

	vars, err := RunOptions{Vars: `{"lang":"go"}`}.vars()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"lang": "go"}, vars)
}
