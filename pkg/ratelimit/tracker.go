package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ThrottleDelay is the pause applied to requests in the warning range.
const ThrottleDelay = 1 * time.Second

// Prometheus metrics for operating budget tracking.
var (
	bitrixOperatingSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bitrix_operating_seconds",
		Help: "Operating time spent per Bitrix24 method in the current window",
	}, []string{"method"})

	bitrixRateLimitBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitrix_rate_limit_blocks_total",
		Help: "Total number of requests blocked due to an exhausted operating budget",
	}, []string{"method"})

	bitrixRateLimitThrottlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitrix_rate_limit_throttles_total",
		Help: "Total number of requests throttled due to a nearly exhausted operating budget",
	}, []string{"method"})
)

// Tracker stores per-method operating budgets in Redis so that every process
// sharing the webhook sees the same state.
type Tracker struct {
	redis    *redis.Client
	logger   zerolog.Logger
	throttle time.Duration
}

// NewTracker creates a new operating budget tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:    redisClient,
		logger:   logger,
		throttle: ThrottleDelay,
	}
}

func stateKey(method string) string {
	return RedisKeyPrefix + method
}

// GetState returns the budget state of method.
// Returns a healthy default when Redis holds no state (never seen, or window expired).
func (t *Tracker) GetState(ctx context.Context, method string) (*OperatingState, error) {
	fields, err := t.redis.HGetAll(ctx, stateKey(method)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "get operating state")
	}

	if len(fields) == 0 {
		t.logger.Debug().Str("method", method).Msg("No operating state in Redis, returning default healthy state")
		return &OperatingState{
			Method:     method,
			LastUpdate: time.Now(),
			IsHealthy:  true,
		}, nil
	}

	operating, err := strconv.ParseFloat(fields[fieldOperating], 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse operating")
	}
	resetAt, err := strconv.ParseInt(fields[fieldResetAt], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse reset timestamp")
	}
	lastUpdate, err := strconv.ParseInt(fields[fieldLastUpdate], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parse last update")
	}

	state := &OperatingState{
		Method:     method,
		Operating:  operating,
		ResetAt:    time.Unix(resetAt, 0),
		LastUpdate: time.UnixMilli(lastUpdate),
	}
	state.UpdateHealth()

	return state, nil
}

// UpdateFromTiming records the budget reported in a response for method.
// A zero OperatingResetAt means the portal did not report a budget and is ignored.
func (t *Tracker) UpdateFromTiming(ctx context.Context, method string, timing Timing) error {
	if timing.OperatingResetAt == 0 {
		return nil
	}
	if timing.Operating < 0 {
		return errors.Newf("invalid operating time %v", timing.Operating)
	}

	now := time.Now()
	state := &OperatingState{
		Method:     method,
		Operating:  timing.Operating,
		ResetAt:    time.Unix(timing.OperatingResetAt, 0),
		LastUpdate: now,
	}
	state.UpdateHealth()

	if !state.ResetAt.After(now) {
		// Window already over; nothing worth keeping.
		return nil
	}

	key := stateKey(method)
	pipe := t.redis.TxPipeline()
	pipe.HSet(ctx, key,
		fieldOperating, strconv.FormatFloat(state.Operating, 'f', -1, 64),
		fieldResetAt, strconv.FormatInt(state.ResetAt.Unix(), 10),
		fieldLastUpdate, strconv.FormatInt(now.UnixMilli(), 10),
	)
	pipe.ExpireAt(ctx, key, state.ResetAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "store operating state in redis")
	}

	bitrixOperatingSeconds.WithLabelValues(method).Set(state.Operating)

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Str("method", method).
			Float64("operating", state.Operating).
			Time("reset_at", state.ResetAt).
			Msg("Bitrix24 operating budget CRITICAL - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Str("method", method).
			Float64("operating", state.Operating).
			Time("reset_at", state.ResetAt).
			Msg("Bitrix24 operating budget WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Str("method", method).
			Float64("operating", state.Operating).
			Bool("is_healthy", state.IsHealthy).
			Msg("Bitrix24 operating budget updated")
	}

	return nil
}

// ShouldAllowRequest checks whether a call to method may proceed.
// Returns false when the budget is exhausted. In the warning range it returns true
// after pausing for the throttle delay, or the context error if ctx ends first.
func (t *Tracker) ShouldAllowRequest(ctx context.Context, method string) (bool, error) {
	state, err := t.GetState(ctx, method)
	if err != nil {
		return false, errors.Wrap(err, "get rate limit state")
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Str("method", method).
			Float64("operating", state.Operating).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Bitrix24 operating budget exhausted - blocking request")

		bitrixRateLimitBlocksTotal.WithLabelValues(method).Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Str("method", method).
			Float64("operating", state.Operating).
			Msg("Bitrix24 operating budget warning - throttling request")

		bitrixRateLimitThrottlesTotal.WithLabelValues(method).Inc()

		timer := time.NewTimer(t.throttle)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return true, nil
}
