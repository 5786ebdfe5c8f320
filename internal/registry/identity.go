package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// idFileName holds the generated node id when the host has no usable name.
const idFileName = ".node-id"

// Version is the release reported in the node description.
var Version = "0.1.0"

// Instance describes the node this process logs as.
type Instance struct {
	NodeID   string `json:"node_id"`
	Hostname string `json:"hostname"`
	Platform string `json:"platform"`
	Version  string `json:"version"`
	PID      int    `json:"pid"`
}

// Describe returns the description of the running process for nodeID.
func Describe(nodeID string) Instance {
	hostname, _ := os.Hostname()
	return Instance{
		NodeID:   nodeID,
		Hostname: hostname,
		Platform: fmt.Sprintf("go-%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
		Version:  Version,
		PID:      os.Getpid(),
	}
}

// ResolveNodeID returns the host name. When it cannot be determined a UUID
// is generated once and persisted in stateDir so restarts keep the same id.
func ResolveNodeID(stateDir string) string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return ensureNodeID(stateDir)
}

func ensureNodeID(stateDir string) string {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return uuid.New().String() // Fallback to ephemeral ID
	}

	idFile := filepath.Join(stateDir, idFileName)
	if data, err := os.ReadFile(idFile); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}

	newID := uuid.New().String()
	_ = os.WriteFile(idFile, []byte(newID), 0644)
	return newID
}
