package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/redis/go-redis/v9"

	"pdfextract/extract"
)

const (
	taskKeyPrefix    = "task:"
	payloadKeyPrefix = "payload:"
)

// updateScript adjusts progress/message (and optionally the status) while
// rejecting writes to terminal records. Progress never moves backwards.
var updateScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return 'NOTFOUND' end
if status == 'completed' or status == 'failed' then return 'TERMINAL' end
if ARGV[4] ~= '' and status ~= 'queued' then return 'TERMINAL' end
local cur = tonumber(redis.call('HGET', KEYS[1], 'progress')) or 0
local p = tonumber(ARGV[1])
if p > cur then redis.call('HSET', KEYS[1], 'progress', p) end
redis.call('HSET', KEYS[1], 'message', ARGV[2], 'updated_at', ARGV[3])
if ARGV[4] ~= '' then redis.call('HSET', KEYS[1], 'status', ARGV[4]) end
if tonumber(ARGV[5]) > 0 then redis.call('PEXPIRE', KEYS[1], ARGV[5]) end
return 'OK'
`)

// terminalScript performs the completed/failed transition. Only a claimed
// (processing) task may be finalized, and the first terminal write wins;
// any other attempt sees TERMINAL.
var terminalScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return 'NOTFOUND' end
if status ~= 'processing' then return 'TERMINAL' end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'message', ARGV[2], 'updated_at', ARGV[3])
if ARGV[1] == 'completed' then
	redis.call('HSET', KEYS[1], 'progress', 100, 'result', ARGV[4], 'backend', ARGV[5])
	redis.call('HDEL', KEYS[1], 'error')
else
	redis.call('HSET', KEYS[1], 'error', ARGV[4])
	redis.call('HDEL', KEYS[1], 'result', 'backend')
end
if tonumber(ARGV[6]) > 0 then redis.call('PEXPIRE', KEYS[1], ARGV[6]) end
return 'OK'
`)

// RedisStore keeps task records as Redis hashes under task:{id} with a
// TTL, and uploaded payload bytes under payload:{id}. Transitions run as
// Lua scripts so concurrent workers cannot clobber a terminal write.
type RedisStore struct {
	client *redis.Client
	expiry time.Duration
}

// NewRedisStore connects and verifies the connection with a ping.
func NewRedisStore(addr, password string, db int, expiry time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{client: client, expiry: expiry}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests.
func NewRedisStoreWithClient(client *redis.Client, expiry time.Duration) *RedisStore {
	return &RedisStore{client: client, expiry: expiry}
}

func (s *RedisStore) Create(ctx context.Context, filename string, size int64) (*Task, error) {
	now := time.Now().UTC()
	t := &Task{
		ID:        shortuuid.New(),
		Filename:  filename,
		Size:      size,
		Status:    StatusQueued,
		Progress:  0,
		Message:   "Task created, waiting to start",
		CreatedAt: now,
		UpdatedAt: now,
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, taskKeyPrefix+t.ID, map[string]interface{}{
		"filename":   t.Filename,
		"size":       t.Size,
		"status":     string(t.Status),
		"progress":   t.Progress,
		"message":    t.Message,
		"created_at": t.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": t.UpdatedAt.Format(time.RFC3339Nano),
	})
	if s.expiry > 0 {
		pipe.PExpire(ctx, taskKeyPrefix+t.ID, s.expiry)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("create task record: %w", err)
	}
	return t, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Task, error) {
	fields, err := s.client.HGetAll(ctx, taskKeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("read task record: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return taskFromHash(id, fields)
}

func (s *RedisStore) List(ctx context.Context) ([]*Task, error) {
	var out []*Task
	iter := s.client.Scan(ctx, 0, taskKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := iter.Val()[len(taskKeyPrefix):]
		t, err := s.Get(ctx, id)
		if err != nil {
			// Expired between scan and read.
			continue
		}
		out = append(out, t)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan task records: %w", err)
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, taskKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("delete task record: %w", err)
	}
	s.client.Del(ctx, payloadKeyPrefix+id)
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, id string, progress int, message string) error {
	return s.runUpdate(ctx, id, progress, message, "")
}

func (s *RedisStore) MarkProcessing(ctx context.Context, id string, progress int, message string) error {
	return s.runUpdate(ctx, id, progress, message, string(StatusProcessing))
}

func (s *RedisStore) runUpdate(ctx context.Context, id string, progress int, message, status string) error {
	res, err := updateScript.Run(ctx, s.client, []string{taskKeyPrefix + id},
		progress,
		message,
		time.Now().UTC().Format(time.RFC3339Nano),
		status,
		s.expiry.Milliseconds(),
	).Text()
	if err != nil {
		return fmt.Errorf("update task record: %w", err)
	}
	return transitionResult(res)
}

func (s *RedisStore) Complete(ctx context.Context, id string, result *extract.Result, backend string) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	res, err := terminalScript.Run(ctx, s.client, []string{taskKeyPrefix + id},
		string(StatusCompleted),
		"Extraction completed successfully",
		time.Now().UTC().Format(time.RFC3339Nano),
		payload,
		backend,
		s.expiry.Milliseconds(),
	).Text()
	if err != nil {
		return fmt.Errorf("complete task record: %w", err)
	}
	return transitionResult(res)
}

func (s *RedisStore) Fail(ctx context.Context, id string, kind, message string) error {
	payload, err := json.Marshal(&Error{Kind: kind, Message: message})
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	res, err := terminalScript.Run(ctx, s.client, []string{taskKeyPrefix + id},
		string(StatusFailed),
		"Extraction failed: "+message,
		time.Now().UTC().Format(time.RFC3339Nano),
		payload,
		"",
		s.expiry.Milliseconds(),
	).Text()
	if err != nil {
		return fmt.Errorf("fail task record: %w", err)
	}
	return transitionResult(res)
}

func (s *RedisStore) PutPayload(ctx context.Context, id string, data []byte) error {
	if err := s.client.Set(ctx, payloadKeyPrefix+id, data, s.expiry).Err(); err != nil {
		return fmt.Errorf("store payload: %w", err)
	}
	return nil
}

func (s *RedisStore) Payload(ctx context.Context, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, payloadKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return data, nil
}

func (s *RedisStore) DeletePayload(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, payloadKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("delete payload: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client exposes the underlying connection so the Redis queue can share it.
func (s *RedisStore) Client() *redis.Client { return s.client }

func transitionResult(res string) error {
	switch res {
	case "OK":
		return nil
	case "NOTFOUND":
		return ErrNotFound
	case "TERMINAL":
		return ErrInvalidTransition
	default:
		return fmt.Errorf("unexpected transition result %q", res)
	}
}

func taskFromHash(id string, fields map[string]string) (*Task, error) {
	t := &Task{
		ID:       id,
		Filename: fields["filename"],
		Status:   Status(fields["status"]),
		Message:  fields["message"],
		Backend:  fields["backend"],
	}

	if v := fields["size"]; v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse size: %w", err)
		}
		t.Size = size
	}
	if v := fields["progress"]; v != "" {
		progress, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse progress: %w", err)
		}
		t.Progress = progress
	}
	if v := fields["created_at"]; v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		t.CreatedAt = ts
	}
	if v := fields["updated_at"]; v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		t.UpdatedAt = ts
	}
	if v := fields["result"]; v != "" {
		var result extract.Result
		if err := json.Unmarshal([]byte(v), &result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		t.Result = &result
	}
	if v := fields["error"]; v != "" {
		var taskErr Error
		if err := json.Unmarshal([]byte(v), &taskErr); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
		t.Error = &taskErr
	}
	return t, nil
}
