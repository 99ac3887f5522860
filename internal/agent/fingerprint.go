package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"runtime"
	"sort"
	"strings"
)

// Fingerprint derives a stable, opaque identifier for this machine from
// the hostname and the MAC addresses of its physical interfaces. The raw
// components never leave the machine; only the hash is sent to the server.
func Fingerprint() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	hostname = strings.ToLower(strings.TrimSpace(hostname))

	macs, err := macAddresses()
	if err != nil {
		return "", err
	}

	// Sorted so interface enumeration order cannot change the result
	sort.Strings(macs)

	h := sha256.New()
	h.Write([]byte(hostname))
	h.Write([]byte{'|'})
	h.Write([]byte(runtime.GOOS))
	for _, mac := range macs {
		h.Write([]byte{'|'})
		h.Write([]byte(mac))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// macAddresses collects MAC addresses of non-loopback interfaces. Virtual
// interfaces without hardware addresses are skipped.
func macAddresses() ([]string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate network interfaces: %w", err)
	}

	var macs []string
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		mac := iface.HardwareAddr.String()
		if mac == "" || mac == "00:00:00:00:00:00" {
			continue
		}
		macs = append(macs, mac)
	}
	if len(macs) == 0 {
		return nil, fmt.Errorf("no usable MAC address found")
	}
	return macs, nil
}
