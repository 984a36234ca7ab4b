package repository

import (
	"context"
	"sync/atomic"
	"time"

	"marketbook/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverThrottle prefers the primary throttle and falls back while it is
// failing, probing the primary again once per recoveryInterval.
type FailoverThrottle struct {
	primary   domain.RequestThrottle
	fallback  domain.RequestThrottle
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverThrottle(primary, fallback domain.RequestThrottle, logger *zerolog.Logger) *FailoverThrottle {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverThrottle{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverThrottle) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary throttle failed, falling back to memory")
	}
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverThrottle) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if !r.isDown.Load() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			return allowed, nil
		}
		r.markDown(err)
	} else if time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.isDown.Store(false)
			r.logger.Info().Msg("Primary throttle recovered")
			return allowed, nil
		}
		r.markDown(err)
	}

	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
