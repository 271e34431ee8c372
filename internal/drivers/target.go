package drivers

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/FairForge/vaultaire-recovery/internal/backup"
)

// Target stores backup archives for one destination
type Target interface {
	Name() string
	// Put stores the object and returns its location within the target
	Put(ctx context.Context, key string, data io.Reader) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// OpenTarget builds the target a destination describes
func OpenTarget(ctx context.Context, dest backup.Destination, logger *zap.Logger) (Target, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch dest.Type {
	case backup.DestinationLocal:
		if dest.Path == "" {
			return nil, fmt.Errorf("destination %s: path required", dest.Name)
		}
		return NewLocalTarget(dest.Name, dest.Path, logger), nil
	case backup.DestinationS3:
		return NewS3Target(ctx, dest, logger)
	default:
		return nil, fmt.Errorf("destination %s: unsupported type %q", dest.Name, dest.Type)
	}
}

// Prober checks destinations by opening and pinging them
type Prober struct {
	logger *zap.Logger
}

// NewProber creates a connectivity prober
func NewProber(logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{logger: logger.Named("prober")}
}

// TestConnection reports whether the destination answers
func (p *Prober) TestConnection(ctx context.Context, dest backup.Destination) bool {
	target, err := OpenTarget(ctx, dest, p.logger)
	if err != nil {
		p.logger.Debug("open destination", zap.String("destination", dest.Name), zap.Error(err))
		return false
	}
	if err := target.Ping(ctx); err != nil {
		p.logger.Debug("ping destination", zap.String("destination", dest.Name), zap.Error(err))
		return false
	}
	return true
}
