package device

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"

	"dryerlink/models"
)

// Fingerprint collects the hardware identifiers hashed into the device UUID.
// Any identifier that cannot be read degrades to "unknown" rather than
// failing registration.
func Fingerprint(softwareVersion string) models.HardwareInfo {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	mac := firstMAC()
	diskUUID := rootDiskUUID()

	combined := fmt.Sprintf("%s-%s-%s", hostname, mac, diskUUID)
	sum := sha256.Sum256([]byte(combined))

	return models.HardwareInfo{
		Hostname:        hostname,
		MAC:             mac,
		DiskUUID:        diskUUID,
		DeviceUUID:      hex.EncodeToString(sum[:]),
		SoftwareVersion: softwareVersion,
	}
}

func firstMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "unknown"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return "unknown"
}

func rootDiskUUID() string {
	src, err := exec.Command("findmnt", "-no", "SOURCE", "/").Output()
	if err != nil {
		return "unknown"
	}
	out, err := exec.Command("blkid", "-s", "UUID", "-o", "value", strings.TrimSpace(string(src))).Output()
	if err != nil {
		return "unknown"
	}
	uuid := strings.TrimSpace(string(out))
	if uuid == "" {
		return "unknown"
	}
	return uuid
}
