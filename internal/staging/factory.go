package staging

import (
	"fmt"

	"cadvault/internal/config"
	"cadvault/internal/pdm"
)

// NewStagedQueueFromConfig creates a StagedQueue implementation based on the config type.
func NewStagedQueueFromConfig(cfg config.StagingConfig, clock pdm.Clock) (pdm.StagedQueue, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStagedQueue(clock), nil
	case "filesystem", "":
		if cfg.StagingDir == "" {
			return nil, fmt.Errorf("filesystem staging queue requires staging_dir to be set")
		}
		return NewFileSystemStagedQueue(cfg.StagingDir, clock)
	default:
		return nil, fmt.Errorf("unknown staging queue type: %s", cfg.Type)
	}
}
