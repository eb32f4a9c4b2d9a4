package services

import (
	"context"
	"fmt"
	"os/exec"

	"go.uber.org/zap"
)

// Commands executes operational commands issued by the cloud. The set is a
// deliberate allowlist; arbitrary shell execution goes through the terminal
// service, not here.
type Commands struct {
	unit   string
	logger *zap.Logger
}

func NewCommands(unit string, logger *zap.Logger) *Commands {
	return &Commands{unit: unit, logger: logger}
}

func (c *Commands) Execute(ctx context.Context, commandType, command string) error {
	c.logger.Info("Executing command",
		zap.String("commandType", commandType), zap.String("command", command))

	argv, err := c.argv(commandType, command)
	if err != nil {
		return err
	}
	return exec.CommandContext(ctx, argv[0], argv[1:]...).Run()
}

func (c *Commands) argv(commandType, command string) ([]string, error) {
	switch commandType {
	case "reboot":
		// Delay lets the command ack drain before the box goes down.
		return []string{"systemd-run", "--on-active=5s", "systemctl", "reboot"}, nil
	case "reload_config":
		// Configuration is read from the environment at boot, so a reload
		// is a restart of our own unit, deferred so the ack drains first.
		return []string{"systemd-run", "--on-active=5s", "systemctl", "restart", c.unit}, nil
	case "restart_service":
		if command == "" {
			return nil, fmt.Errorf("restart_service requires a unit name")
		}
		return []string{"systemctl", "restart", command}, nil
	default:
		return nil, fmt.Errorf("unsupported command type %q", commandType)
	}
}
