package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quraeshi99/noortime/internal/models"
)

// Job names dispatched by the engine.
const (
	JobFetchYearly      = "fetch_and_cache_yearly"
	JobGenerateSchedule = "generate_schedule_for_single_user"
)

// FetchYearlyPayload parameterizes a yearly calendar fetch.
type FetchYearlyPayload struct {
	ZoneID    string  `json:"zone_id"`
	Year      int     `json:"year"`
	MethodKey string  `json:"method_key"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// GenerateSchedulePayload parameterizes a per-owner schedule build.
type GenerateSchedulePayload struct {
	OwnerID int64 `json:"owner_id"`
	Year    int   `json:"year"`
	Month   int   `json:"month"`
}

// Dispatcher is the named-job queue port. Production wires it to a durable
// Redis queue consumed by the worker binary; tests use MemDispatcher and
// drain it deterministically.
type Dispatcher interface {
	Delay(ctx context.Context, name string, payload any) error
}

// queuedJob is the wire format of one queue entry.
type queuedJob struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// RedisDispatcher pushes jobs onto a Redis list.
type RedisDispatcher struct {
	client *redis.Client
	queue  string
}

// DefaultQueue is the Redis list the worker consumes.
const DefaultQueue = "noortime:jobs"

// NewRedisDispatcher creates the production dispatcher.
func NewRedisDispatcher(client *redis.Client) *RedisDispatcher {
	return &RedisDispatcher{client: client, queue: DefaultQueue}
}

func (d *RedisDispatcher) Delay(ctx context.Context, name string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", name, err)
	}
	entry, err := json.Marshal(queuedJob{Name: name, Payload: raw})
	if err != nil {
		return fmt.Errorf("encode %s job: %w", name, err)
	}
	if err := d.client.LPush(ctx, d.queue, entry).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", name, err)
	}
	return nil
}

// Pop blocks for up to timeout waiting for one job. Returns nil on timeout.
func (d *RedisDispatcher) Pop(ctx context.Context, timeout time.Duration) (*queuedJob, error) {
	res, err := d.client.BRPop(ctx, timeout, d.queue).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	// BRPOP returns [key, value].
	var job queuedJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

// MemDispatcher is the deterministic in-memory queue used by tests.
type MemDispatcher struct {
	mu   sync.Mutex
	jobs []queuedJob
}

// NewMemDispatcher creates an empty queue.
func NewMemDispatcher() *MemDispatcher {
	return &MemDispatcher{}
}

func (d *MemDispatcher) Delay(_ context.Context, name string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", name, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, queuedJob{Name: name, Payload: raw})
	return nil
}

// Len returns the number of queued jobs.
func (d *MemDispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

// Jobs returns the queued job names in order.
func (d *MemDispatcher) Jobs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, len(d.jobs))
	for i, j := range d.jobs {
		names[i] = j.Name
	}
	return names
}

// PopYearly decodes and removes the next fetch-yearly job, or nil.
func (d *MemDispatcher) PopYearly() *FetchYearlyPayload {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, j := range d.jobs {
		if j.Name == JobFetchYearly {
			var p FetchYearlyPayload
			if err := json.Unmarshal(j.Payload, &p); err != nil {
				return nil
			}
			d.jobs = append(d.jobs[:i], d.jobs[i+1:]...)
			return &p
		}
	}
	return nil
}

// PopSchedule decodes and removes the next schedule job, or nil.
func (d *MemDispatcher) PopSchedule() *GenerateSchedulePayload {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, j := range d.jobs {
		if j.Name == JobGenerateSchedule {
			var p GenerateSchedulePayload
			if err := json.Unmarshal(j.Payload, &p); err != nil {
				return nil
			}
			d.jobs = append(d.jobs[:i], d.jobs[i+1:]...)
			return &p
		}
	}
	return nil
}

// methodKeyOf parses a composite key that was validated at enqueue time; a
// malformed stored key is surfaced loudly.
func methodKeyOf(s string) (models.MethodKey, error) {
	return models.ParseMethodKey(s)
}
