package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCommandAllowlist(t *testing.T) {
	c := NewCommands("dryerlink.service", zap.NewNop())

	argv, err := c.argv("reboot", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"systemd-run", "--on-active=5s", "systemctl", "reboot"}, argv)

	// reload_config restarts our own unit after the ack has drained.
	argv, err = c.argv("reload_config", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"systemd-run", "--on-active=5s", "systemctl", "restart", "dryerlink.service"}, argv)

	argv, err = c.argv("restart_service", "chrony.service")
	require.NoError(t, err)
	assert.Equal(t, []string{"systemctl", "restart", "chrony.service"}, argv)
}

func TestCommandRejectsOutsideAllowlist(t *testing.T) {
	c := NewCommands("dryerlink.service", zap.NewNop())

	_, err := c.argv("restart_service", "")
	assert.Error(t, err)

	_, err = c.argv("rm_rf", "/")
	assert.ErrorContains(t, err, "unsupported command type")
}
