package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/berfenger/antra2mqtt/internal/config"
	"github.com/berfenger/antra2mqtt/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "antra2mqtt:accounting"

// RedisStore keeps the ledger as a JSON string under Key. A hash with the
// main figures is written next to it in the same transaction so other tools
// can read them without decoding JSON.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis store needs an address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreWithClient(client, cfg.Key), nil
}

func NewRedisStoreWithClient(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) FieldsKey() string {
	return s.key + ":fields"
}

func (s *RedisStore) Load(ctx context.Context) (domain.AccountingState, bool, error) {
	var state domain.AccountingState
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return state, false, nil
	}
	if err != nil {
		return state, false, err
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, false, err
	}
	return state, true, nil
}

func (s *RedisStore) Save(ctx context.Context, state domain.AccountingState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key, data, 0)
	pipe.HSet(ctx, s.FieldsKey(), StateFields(state))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// StateFields flattens the main ledger figures into hash fields.
func StateFields(state domain.AccountingState) map[string]any {
	fields := map[string]any{
		"total-charged-energy":     formatFloat(state.TotalChargedEnergy),
		"total-discharged-energy":  formatFloat(state.TotalDischargedEnergy),
		"energy-since-last-charge": formatFloat(state.EnergySinceLastCharge),
		"charge-status":            string(state.ChargeStatus),
		"charge-rate":              formatFloat(state.ChargeRateWatts),
		"total-stored-energy":      formatFloat(state.TotalStoredEnergy()),
		"batteries":                strconv.Itoa(state.Batteries()),
	}
	for i, v := range state.StoredEnergy {
		fields["stored-energy:"+strconv.Itoa(i+1)] = formatFloat(v)
	}
	for i, v := range state.Capacity {
		fields["capacity:"+strconv.Itoa(i+1)] = formatFloat(v)
	}
	return fields
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
