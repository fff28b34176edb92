package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/weft"
	"github.com/aretw0/weft/pkg/domain"
)

func TestSessions(t *testing.T) {
	engine := memoryEngine(t)
	res, err := engine.Run(context.Background(), "greet", weft.Prompt("x"), weft.WithSessionName("first"))
	require.NoError(t, err)
	require.Equal(t, "first", res.MetaInfo.SessionName)

	list, err := ListSessions(engine.Warehouse())
	require.NoError(t, err)
	require.Len(t, list, 1)

	s := list[0]
	assert.Equal(t, "first", s.Name)
	assert.Equal(t, "greet", s.Graph)
	assert.Equal(t, res.MetaInfo.LogID, s.LogID)
	assert.Equal(t, []string{"hello"}, s.Visited)
	assert.Equal(t, "hello", s.LastNode())
	assert.Equal(t, 1, s.Events[domain.KindNodeEnd])

	_, err = InspectSession(engine.Warehouse(), "missing")
	assert.Error(t, err)

	assert.Error(t, RemoveSession(engine.Warehouse(), "../first"))
	require.NoError(t, RemoveSession(engine.Warehouse(), "first"))
	list, err = ListSessions(engine.Warehouse())
	require.NoError(t, err)
	assert.Empty(t, list)
}
