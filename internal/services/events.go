package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cot-backend/internal/chain"
	"cot-backend/internal/models"
)

// ChainChannel is the pub/sub channel carrying progress for one run.
func ChainChannel(runID string) string {
	return fmt.Sprintf("chain_updates:%s", runID)
}

// RedisPublisher publishes run progress over Redis pub/sub. Publishing is
// best effort; failures are logged and never affect the run.
type RedisPublisher struct {
	redis  redis.UniversalClient
	logger zerolog.Logger
}

func NewRedisPublisher(client redis.UniversalClient, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{redis: client, logger: logger.With().Str("component", "events").Logger()}
}

// TurnCompleted implements chain.Observer.
func (p *RedisPublisher) TurnCompleted(ctx context.Context, ev chain.TurnEvent) {
	p.publish(ctx, ev.RunID, models.ChainUpdate{Type: "turn_completed", Payload: ev})
}

// RunFinished announces the outcome of a completed run.
func (p *RedisPublisher) RunFinished(ctx context.Context, result *chain.Result) {
	p.publish(ctx, result.RunID, models.ChainUpdate{
		Type: "run_finished",
		Payload: models.RunFinished{
			RunID:     result.RunID,
			Turns:     result.Turns,
			Reason:    string(result.Reason),
			Summaries: len(result.Summaries),
		},
	})
}

func (p *RedisPublisher) publish(ctx context.Context, runID string, msg models.ChainUpdate) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error().Err(err).Str("run_id", runID).Msg("failed to encode chain update")
		return
	}
	if err := p.redis.Publish(ctx, ChainChannel(runID), string(data)).Err(); err != nil {
		p.logger.Warn().Err(err).Str("run_id", runID).Str("type", msg.Type).Msg("failed to publish chain update")
	}
}
