package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-relayer-framework/pkg/logger"
)

func TestNew(t *testing.T) {
	t.Parallel()

	lggr := logger.Nop()
	cmds := New(lggr)

	require.NotNil(t, cmds)
	assert.Equal(t, lggr, cmds.lggr)
}

func TestCommands_Config(t *testing.T) {
	t.Parallel()

	cmd := New(logger.Nop()).Config()

	require.NotNil(t, cmd)
	assert.Equal(t, "config", cmd.Use)
	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.Len(t, cmd.Commands(), 2)
}

func TestCommands_Store(t *testing.T) {
	t.Parallel()

	cmd := New(logger.Nop()).Store()

	require.NotNil(t, cmd)
	assert.Equal(t, "store", cmd.Use)
	assert.Equal(t, "Origin store commands", cmd.Short)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Len(t, cmd.Commands(), 3)
}
