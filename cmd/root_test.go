package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"ingest", "process", "worker", "status", "list", "reenter", "cancel", "rules", "migrate"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "ledger-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestIngestCommand_Flags(t *testing.T) {
	for _, name := range []string{"company", "mime", "advance"} {
		assert.NotNil(t, ingestCmd.Flags().Lookup(name), "ingest should have --%s flag", name)
	}
}

func TestProcessCommand_Flags(t *testing.T) {
	flag := processCmd.Flags().Lookup("limit")
	require.NotNil(t, flag, "process command should have --limit flag")
	assert.Equal(t, "100", flag.DefValue)
	assert.NotNil(t, processCmd.Flags().Lookup("pending"))
}

func TestReenterCommand_Flags(t *testing.T) {
	assert.NotNil(t, reenterCmd.Flags().Lookup("correction"))
	assert.NotNil(t, reenterCmd.Flags().Lookup("advance"))
}

func TestRulesCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rulesCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"import", "list"} {
		assert.True(t, names[name], "rules should have subcommand %q", name)
	}
}

func TestWorkerCommand_Flags(t *testing.T) {
	flag := workerCmd.Flags().Lookup("no-monitor")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}
