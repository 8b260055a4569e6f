package publisher

import (
	"fmt"

	"github.com/kiranshivaraju/threadpost/internal/config"
	"github.com/kiranshivaraju/threadpost/pkg/models"
)

// NewPublisher constructs the publisher selected by PUBLISH_MODE.
// Called once at server startup.
func NewPublisher(cfg *config.Config) (models.Publisher, error) {
	switch cfg.Publish.Mode {
	case config.PublishModeLive:
		return NewXClient(cfg.X), nil
	case config.PublishModeDryRun:
		return NewDryRunPublisher(), nil
	default:
		return nil, fmt.Errorf("unknown publish mode %q: must be one of live, dry_run", cfg.Publish.Mode)
	}
}
