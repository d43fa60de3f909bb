package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"scan", "conflicts", "candidates", "seed", "migrate", "serve", "worker", "stats"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "match-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestScanCommand_Flags(t *testing.T) {
	flag := scanCmd.Flags().Lookup("dev")
	require.NotNil(t, flag, "scan command should have --dev flag")
	assert.Equal(t, "false", flag.DefValue)

	names := make(map[string]bool)
	for _, c := range scanCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["status"])
	assert.True(t, names["cancel"])
}

func TestConflictsCommand_DecisionFlags(t *testing.T) {
	for _, c := range []string{"approve", "reject"} {
		sub, _, err := conflictsCmd.Find([]string{c})
		require.NoError(t, err)
		user := sub.Flags().Lookup("user")
		require.NotNil(t, user, "%s should have --user", c)
		assert.Equal(t, []string{"true"}, user.Annotations["cobra_annotation_bash_completion_one_required_flag"])
		assert.NotNil(t, sub.Flags().Lookup("notes"))
	}
}

func TestCandidatesList_Flags(t *testing.T) {
	flag := candidatesListCmd.Flags().Lookup("status")
	require.NotNil(t, flag)
	assert.Equal(t, "open", flag.DefValue)
	assert.Equal(t, "50", candidatesListCmd.Flags().Lookup("limit").DefValue)
	assert.NotNil(t, candidatesListCmd.Flags().Lookup("xlsx"))
	assert.NotNil(t, conflictsListCmd.Flags().Lookup("xlsx"))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestStatsCommand_Flags(t *testing.T) {
	for _, name := range []string{"hours", "json", "check"} {
		assert.NotNil(t, statsCmd.Flags().Lookup(name), "stats should have --%s", name)
	}
}
