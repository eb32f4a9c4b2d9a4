package services

import (
	"os/exec"

	"go.uber.org/zap"
)

// Updater launches the on-device update script for softwareUpdate commands.
// The script downloads, verifies, and swaps the agent; it runs detached so
// dispatch never blocks on it.
type Updater struct {
	script string
	logger *zap.Logger
}

func NewUpdater(script string, logger *zap.Logger) *Updater {
	return &Updater{script: script, logger: logger}
}

func (u *Updater) Apply(url, version string) {
	if url == "" {
		u.logger.Warn("Software update without package url, ignoring")
		return
	}

	u.logger.Info("Launching software update",
		zap.String("url", url), zap.String("version", version))

	go func() {
		cmd := exec.Command(u.script, url, version)
		out, err := cmd.CombinedOutput()
		if err != nil {
			u.logger.Error("Update script failed",
				zap.Error(err), zap.ByteString("output", out))
			return
		}
		u.logger.Info("Update script finished", zap.String("version", version))
	}()
}
