package directory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const workloadKeyPrefix = "taskforge:workload:"

// RedisWorkloadCounter stores per-employee active work item counts in Redis.
// INCR/DECR give the atomic increment semantics the engine needs when several
// instances assign work concurrently.
type RedisWorkloadCounter struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisWorkloadCounter creates a Redis-backed workload counter
func NewRedisWorkloadCounter(client *redis.Client, logger *slog.Logger) *RedisWorkloadCounter {
	return &RedisWorkloadCounter{client: client, logger: logger}
}

// Current returns the employee's active work item count
func (w *RedisWorkloadCounter) Current(ctx context.Context, employeeID string) (int, error) {
	val, err := w.client.Get(ctx, workloadKeyPrefix+employeeID).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read workload counter: %w", err)
	}
	return val, nil
}

// Increment atomically bumps the employee's workload and returns the new count
func (w *RedisWorkloadCounter) Increment(ctx context.Context, employeeID string) (int, error) {
	val, err := w.client.Incr(ctx, workloadKeyPrefix+employeeID).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment workload counter: %w", err)
	}
	return int(val), nil
}

// Decrement atomically lowers the employee's workload, flooring at zero
func (w *RedisWorkloadCounter) Decrement(ctx context.Context, employeeID string) (int, error) {
	val, err := w.client.Decr(ctx, workloadKeyPrefix+employeeID).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to decrement workload counter: %w", err)
	}
	if val < 0 {
		// Reset drifted counters rather than letting them go negative.
		if err := w.client.Set(ctx, workloadKeyPrefix+employeeID, 0, 0).Err(); err != nil {
			w.logger.Warn("Failed to reset negative workload counter",
				"employee_id", employeeID,
				"error", err)
		}
		return 0, nil
	}
	return int(val), nil
}
