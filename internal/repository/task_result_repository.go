package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/osvaldoandrade/personaq/pkg/domain"
	"github.com/osvaldoandrade/personaq/pkg/persistence"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// TaskResultRepository is the append-only store for executed task records.
type TaskResultRepository interface {
	Save(ctx context.Context, res *domain.TaskResult) (string, error)
	Get(ctx context.Context, id string) (*domain.TaskResult, error)
	ListByRun(ctx context.Context, runID string) ([]domain.TaskResult, error)
	ListByReport(ctx context.Context, reportID string) ([]domain.TaskResult, error)
}

type taskResultRedisRepo struct {
	rdb *redis.Client
	tz  *time.Location
}

func NewTaskResultRepository(rdb *redis.Client, tz *time.Location) TaskResultRepository {
	if tz == nil {
		tz = time.UTC
	}
	return &taskResultRedisRepo{rdb: rdb, tz: tz}
}

func (r *taskResultRedisRepo) keyResultsHash() string { return "personaq:results" }
func (r *taskResultRedisRepo) keyRunIndex(runID string) string {
	return fmt.Sprintf("personaq:run:%s:results", runID)
}
func (r *taskResultRedisRepo) keyReportIndex(reportID string) string {
	return fmt.Sprintf("personaq:report:%s:results", reportID)
}

func (r *taskResultRedisRepo) now() time.Time { return time.Now().In(r.tz) }

// KEYS[1] results hash, KEYS[2..] index lists. ARGV: id, record JSON.
// Indexes are written before the record so a failed call never leaves an
// unindexed record behind; listIndex skips index entries without one.
var saveResultScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 1 then
  return 0
end
for i = 2, #KEYS do
  redis.call("RPUSH", KEYS[i], ARGV[1])
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
return 1
`)

func (r *taskResultRedisRepo) Save(ctx context.Context, res *domain.TaskResult) (string, error) {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = r.now()
	}
	if res.EventSequence == nil {
		res.EventSequence = []domain.Event{}
	}
	b, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	keys := []string{r.keyResultsHash()}
	if res.RunID != "" {
		keys = append(keys, r.keyRunIndex(res.RunID))
	}
	if res.ReportID != "" {
		keys = append(keys, r.keyReportIndex(res.ReportID))
	}
	created, err := saveResultScript.Run(ctx, r.rdb, keys, res.ID, string(b)).Int()
	if err != nil {
		return "", fmt.Errorf("redis save result: %w", err)
	}
	if created == 0 {
		return "", persistence.ErrAlreadyExists
	}
	return res.ID, nil
}

func (r *taskResultRedisRepo) Get(ctx context.Context, id string) (*domain.TaskResult, error) {
	js, err := r.rdb.HGet(ctx, r.keyResultsHash(), id).Result()
	if err == redis.Nil || (err == nil && js == "") {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis HGET result: %w", err)
	}
	var res domain.TaskResult
	if err := json.Unmarshal([]byte(js), &res); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &res, nil
}

func (r *taskResultRedisRepo) ListByRun(ctx context.Context, runID string) ([]domain.TaskResult, error) {
	return r.listIndex(ctx, r.keyRunIndex(runID))
}

func (r *taskResultRedisRepo) ListByReport(ctx context.Context, reportID string) ([]domain.TaskResult, error) {
	return r.listIndex(ctx, r.keyReportIndex(reportID))
}

// listIndex returns results in insertion order. Index entries whose record
// is missing are skipped.
func (r *taskResultRedisRepo) listIndex(ctx context.Context, key string) ([]domain.TaskResult, error) {
	ids, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis LRANGE %s: %w", key, err)
	}
	out := make([]domain.TaskResult, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	vals, err := r.rdb.HMGet(ctx, r.keyResultsHash(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HMGET results: %w", err)
	}
	for _, v := range vals {
		js, ok := v.(string)
		if !ok || js == "" {
			continue
		}
		var res domain.TaskResult
		if err := json.Unmarshal([]byte(js), &res); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		out = append(out, res)
	}
	return out, nil
}
