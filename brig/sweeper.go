package brig

import (
	"os"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/uber-go/zap"

	"github.com/rohan-flutterint/minum/logger"
)

// Sweeper periodically prunes expired jail entries so lookups for keys that
// never recur still get cleaned up. It implements ifrit.Runner.
type Sweeper struct {
	brig     *Brig
	interval time.Duration
	clock    clock.Clock
	logger   logger.Logger
}

func NewSweeper(brig *Brig, interval time.Duration, clk clock.Clock, logger logger.Logger) *Sweeper {
	return &Sweeper{
		brig:     brig,
		interval: interval,
		clock:    clk,
		logger:   logger,
	}
}

func (s *Sweeper) Run(signals <-chan os.Signal, ready chan<- struct{}) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	close(ready)

	for {
		select {
		case <-ticker.C():
			evicted := s.brig.Prune()
			if evicted > 0 {
				s.logger.Debug("pruned-jail-entries", zap.Int("evicted", evicted))
			}
		case <-signals:
			return nil
		}
	}
}
