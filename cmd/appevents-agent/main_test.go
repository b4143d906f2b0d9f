package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestValidateConfigCommand(t *testing.T) {
	configFile = writeConfig(t, "app:\n  app_id: \"1234\"\nstore:\n  backend: memory\nbroker:\n  type: none\n")
	t.Cleanup(func() { configFile = "" })

	cmd := validateConfigCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(nil)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "configuration OK (store=memory, broker=none)")
}

func TestNotifyRequiresKafka(t *testing.T) {
	configFile = writeConfig(t, "broker:\n  type: none\n")
	t.Cleanup(func() { configFile = "" })

	cmd := notifyRulesUpdatedCmd()
	cmd.SetArgs(nil)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker.type")
}

func TestNotifyRejectsUnknownEventType(t *testing.T) {
	configFile = writeConfig(t, "broker:\n  type: none\n")
	t.Cleanup(func() { configFile = "" })

	cmd := notifyRulesUpdatedCmd()
	cmd.SetArgs([]string{"--event-type", "fields_updated"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event type")
}
