package journal

import (
	"fmt"

	"cadvault/internal/config"
	"cadvault/internal/pdm"
)

// NewJournalFromConfig creates a Journal based on the provided configuration.
// The returned close func is never nil.
func NewJournalFromConfig(cfg config.JournalConfig, logger pdm.Logger) (pdm.Journal, func() error, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryJournal(), func() error { return nil }, nil
	case "sqlite", "":
		if cfg.DataDir == "" {
			return nil, nil, fmt.Errorf("sqlite journal requires data_dir")
		}
		j, err := OpenSQLiteJournalDir(cfg.DataDir, logger)
		if err != nil {
			return nil, nil, err
		}
		return j, j.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported journal type: %q", cfg.Type)
	}
}
