// Package killswitch implements the cluster-visible admission gate (spec
// §4.B) on top of Redis so every process instance observes the same state
// without a broadcast mechanism.
package killswitch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"executioncore/internal/core"
	"executioncore/pkg/apperrors"

	"github.com/redis/go-redis/v9"
)

const redisKey = "kill_switch:global"

// KillSwitch is the Redis-backed core.IKillSwitch implementation.
type KillSwitch struct {
	client *redis.Client
	logger core.ILogger
}

// New wraps an existing Redis client. The client's lifecycle (and its
// addr/password/db configuration) is owned by the composition root.
func New(client *redis.Client, logger core.ILogger) *KillSwitch {
	return &KillSwitch{client: client, logger: logger}
}

type record struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason"`
	ActivatedAt time.Time `json:"activatedAt"`
	ActivatedBy string    `json:"activatedBy"`
}

func (k *KillSwitch) Get(ctx context.Context) (*core.KillSwitchState, error) {
	raw, err := k.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return &core.KillSwitchState{Active: false}, nil
	}
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &core.KillSwitchState{
		Active:      rec.Active,
		Reason:      rec.Reason,
		ActivatedAt: rec.ActivatedAt,
		ActivatedBy: rec.ActivatedBy,
	}, nil
}

func (k *KillSwitch) Activate(ctx context.Context, reason, actor string) error {
	rec := record{Active: true, Reason: reason, ActivatedAt: time.Now(), ActivatedBy: actor}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := k.client.Set(ctx, redisKey, raw, 0).Err(); err != nil {
		return err
	}
	k.logger.Warn("kill switch activated", "reason", reason, "actor", actor)
	return nil
}

func (k *KillSwitch) Deactivate(ctx context.Context) error {
	if err := k.client.Del(ctx, redisKey).Err(); err != nil {
		return err
	}
	k.logger.Info("kill switch deactivated")
	return nil
}

// CheckOrFail is the admission façade's fast-path gate (spec §4.I step 1):
// it reads the state via Get and, if the switch is tripped, returns a
// KILL_SWITCH_ACTIVE apperror carrying the reason, activatedBy and activatedAt.
func (k *KillSwitch) CheckOrFail(ctx context.Context) error {
	state, err := k.Get(ctx)
	if err != nil {
		return err
	}
	if state.Active {
		return apperrors.New(apperrors.CodeKillSwitchActive, "kill switch is active: "+state.Reason).
			WithDetail("activatedBy", state.ActivatedBy).
			WithDetail("activatedAt", state.ActivatedAt)
	}
	return nil
}

var _ core.IKillSwitch = (*KillSwitch)(nil)
