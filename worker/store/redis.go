package store

import (
	"encoding/json"

	"github.com/go-redis/redis/v7"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const keyPrefix = "nadflip:settlement:"

type redisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0, // use default DB
	})

	_, err := client.Ping().Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to ping Redis at %s", addr)
	}

	return &redisStore{
		client: client,
	}, nil
}

func (r redisStore) Set(identity string, settlement *Settlement) error {
	bs, err := json.Marshal(settlement)
	if err != nil {
		return errors.Wrap(err, "failed to save settlement to redis")
	}

	if err := r.client.Set(keyPrefix+identity, bs, 0).Err(); err != nil {
		return errors.Wrap(err, "failed to save settlement to redis")
	}

	log.Debugf("journaled settlement %s", identity)
	return nil
}

func (r redisStore) Get(identity string) (*Settlement, error) {
	var settlement Settlement

	bs, err := r.client.Get(keyPrefix + identity).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get settlement from redis")
	}

	if err := json.Unmarshal(bs, &settlement); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal settlement data")
	}

	return &settlement, nil
}
