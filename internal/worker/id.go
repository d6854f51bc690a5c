package worker

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

// GenerateID creates a worker ID in host-xxxxxxxx format (8-char hex suffix).
func GenerateID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("worker: generate ID: %w", err)
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "wkr"
	}
	if len(host) > 40 {
		host = host[:40]
	}
	return host + "-" + hex.EncodeToString(b), nil
}
