package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nadmax/imagegen/internal/task"
	"github.com/redis/go-redis/v9"
)

const (
	taskKeyPrefix  = "imagegen:task:"
	providerIDsKey = "imagegen:provider_ids"
	createdKey     = "imagegen:created"
	seqKey         = "imagegen:seq"

	maxTxRetries = 10
)

// RedisStore keeps each task as JSON under its own key, with a provider id index
// hash and a sorted set ordering tasks by creation time. Sorted set members are
// prefixed with a zero-padded creation sequence so equal timestamps list newest
// first. Conditional writes WATCH only the keys they read.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func taskKey(id string) string {
	return taskKeyPrefix + id
}

func createdMember(seq int64, id string) string {
	return fmt.Sprintf("%020d:%s", seq, id)
}

func memberID(member string) string {
	_, id, _ := strings.Cut(member, ":")
	return id
}

func NewRedisStore(redisAddr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        redisAddr,
		PoolSize:    10,
		PoolTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		client: client,
		now:    time.Now,
	}, nil
}

func (s *RedisStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *RedisStore) Create(ctx context.Context, prompt string, ratio task.AspectRatio) (*task.Task, error) {
	t := task.NewTask(prompt, ratio, s.now())
	taskJSON, err := t.ToJSON()
	if err != nil {
		return nil, err
	}

	seq, err := s.client.Incr(ctx, seqKey).Result()
	if err != nil {
		return nil, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, taskKey(t.ID), taskJSON, 0)
		pipe.ZAdd(ctx, createdKey, redis.Z{
			Score:  float64(t.CreatedAt.UnixMicro()),
			Member: createdMember(seq, t.ID),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return t, nil
}

func (s *RedisStore) AttachProviderID(ctx context.Context, id, providerTaskID string) (*task.Task, error) {
	if providerTaskID == "" {
		return nil, ErrEmptyProviderID
	}

	return s.update(ctx, id, []string{providerIDsKey}, func(tx *redis.Tx, t *task.Task) (string, error) {
		owner, err := tx.HGet(ctx, providerIDsKey, providerTaskID).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return "", err
		}
		if err == nil && owner != id {
			return "", fmt.Errorf("%w: %s", task.ErrProviderIDTaken, providerTaskID)
		}
		if t.ProviderTaskID != "" && t.ProviderTaskID != providerTaskID {
			return "", fmt.Errorf("%w: task %s already has provider id %s", task.ErrProviderIDTaken, id, t.ProviderTaskID)
		}

		t.ProviderTaskID = providerTaskID
		t.UpdatedAt = s.now()
		return providerTaskID, nil
	})
}

func (s *RedisStore) Get(ctx context.Context, id string) (*task.Task, error) {
	taskJSON, err := s.client.Get(ctx, taskKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	return task.FromJSON(taskJSON)
}

func (s *RedisStore) GetByProviderID(ctx context.Context, providerTaskID string) (*task.Task, error) {
	id, err := s.client.HGet(ctx, providerIDsKey, providerTaskID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: provider id %s", task.ErrNotFound, providerTaskID)
	}
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, id)
}

func (s *RedisStore) Merge(ctx context.Context, id string, u task.Update) (*task.Task, error) {
	return s.update(ctx, id, nil, func(_ *redis.Tx, t *task.Task) (string, error) {
		if !u.Allows(t.Status) {
			return "", fmt.Errorf("%w: %s is %s", task.ErrStatusConflict, id, t.Status)
		}

		t.Apply(u, s.now())
		return "", nil
	})
}

func (s *RedisStore) List(ctx context.Context, limit, offset int) ([]*task.Task, error) {
	limit, offset = NormalizePage(limit, offset)

	members, err := s.client.ZRevRange(ctx, createdKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []*task.Task{}, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = taskKey(memberID(m))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	tasks := make([]*task.Task, 0, len(values))
	for _, v := range values {
		taskJSON, ok := v.(string)
		if !ok {
			continue
		}
		t, err := task.FromJSON(taskJSON)
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}

	return tasks, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// update runs a read-modify-write of one task inside a WATCH transaction on the
// task key plus extraKeys. mutate changes the task in place and may return a
// provider id to index under the task.
func (s *RedisStore) update(ctx context.Context, id string, extraKeys []string, mutate func(*redis.Tx, *task.Task) (string, error)) (*task.Task, error) {
	var result *task.Task
	key := taskKey(id)
	watched := append([]string{key}, extraKeys...)

	txf := func(tx *redis.Tx) error {
		taskJSON, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", task.ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		t, err := task.FromJSON(taskJSON)
		if err != nil {
			return err
		}

		providerTaskID, err := mutate(tx, t)
		if err != nil {
			return err
		}

		updated, err := t.ToJSON()
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			if providerTaskID != "" {
				pipe.HSet(ctx, providerIDsKey, providerTaskID, id)
			}
			return nil
		})
		if err != nil {
			return err
		}

		result = t
		return nil
	}

	for range maxTxRetries {
		err := s.client.Watch(ctx, txf, watched...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}

		return result, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrTooManyRetries, id)
}
