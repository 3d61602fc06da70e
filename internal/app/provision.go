package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/bft-labs/nvsq/internal/domain"
	"github.com/bft-labs/nvsq/internal/ports"
)

// Attach initializes a partition for normal use and never erases it. A
// partition that would need an erase fails with domain.ErrNeedsProvision.
func Attach(ctx context.Context, p ports.Partition) error {
	err := p.Init(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, ports.ErrNoFreePages) || errors.Is(err, ports.ErrNewVersionFound) {
		return fmt.Errorf("%w: %w", domain.ErrNeedsProvision, err)
	}
	return fmt.Errorf("init partition: %w", err)
}

// Provision prepares a partition for use. A partition that reports no free
// pages or a newer layout version is erased and initialized again. With
// erase set the partition is wiped first unconditionally.
func Provision(ctx context.Context, p ports.Partition, erase bool, logger ports.Logger) error {
	if logger == nil {
		logger = nopLogger{}
	}

	if erase {
		logger.Warn("erasing partition")
		if err := p.Erase(ctx); err != nil {
			return fmt.Errorf("erase partition: %w", err)
		}
	}

	err := p.Init(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ports.ErrNoFreePages) && !errors.Is(err, ports.ErrNewVersionFound) {
		return fmt.Errorf("init partition: %w", err)
	}

	logger.Warn("partition needs erase", ports.Err(err))
	if err := p.Erase(ctx); err != nil {
		return fmt.Errorf("erase partition: %w", err)
	}
	if err := p.Init(ctx); err != nil {
		return fmt.Errorf("init partition after erase: %w", err)
	}
	logger.Info("partition erased and initialized")
	return nil
}
