package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/ai-check-api/internal/observability"
)

// Enqueuer hands jobs to the worker. A positive runAfter delays delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job, runAfter time.Duration) (Job, error)
}

// Config configures the Redis Streams dispatcher.
type Config struct {
	Stream string
	Group  string
	// Consumer names this worker inside the group. It must survive restarts so the
	// worker can replay what it read but never acknowledged.
	Consumer string
	// Block is how long Read waits for a message. A negative value does not block.
	Block time.Duration
	// ClaimIdle is how long another consumer's unacknowledged entry may sit idle
	// before Read takes it over. Zero disables the takeover.
	ClaimIdle   time.Duration
	PromoteSize int64
}

// Stats summarises queue depth for the debug endpoint.
type Stats struct {
	Stream  string `json:"stream"`
	Length  int64  `json:"length"`
	Delayed int64  `json:"delayed"`
	Pending int64  `json:"pending"`
	DLQ     int64  `json:"dlq"`
}

// Dispatcher is a Redis Streams job queue with a consumer group, a delayed sorted set
// for jobs that must wait, and a dead letter stream.
type Dispatcher struct {
	client *redis.Client
	cfg    Config
	now    func() time.Time

	backlogDrained atomic.Bool
}

// promoteScript moves due members of the delayed set (KEYS[1]) onto the stream
// (KEYS[2]). A member leaves the set only after its XADD succeeded.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
	local jobID = ''
	local ok, job = pcall(cjson.decode, member)
	if ok and type(job) == 'table' and type(job['job_id']) == 'string' then
		jobID = job['job_id']
	end
	redis.call('XADD', KEYS[2], '*', 'job_id', jobID, 'type', ARGV[3], 'payload', member)
	redis.call('ZREM', KEYS[1], member)
end
return #due
`)

// NewDispatcher constructs a dispatcher. Consumer defaults to a name derived from
// the host name, or a random id when the host name is unknown.
func NewDispatcher(client *redis.Client, cfg Config) *Dispatcher {
	if cfg.Stream == "" {
		cfg.Stream = "aicheck:jobs:v1:grading"
	}
	if cfg.Group == "" {
		cfg.Group = "aicheck-workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = defaultConsumer()
	}
	if cfg.Block == 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.PromoteSize <= 0 {
		cfg.PromoteSize = 100
	}

	return &Dispatcher{client: client, cfg: cfg, now: time.Now}
}

func defaultConsumer() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return "aicheck-" + hostname
	}
	return fmt.Sprintf("aicheck-%s", uuid.New().String()[:8])
}

// Consumer returns the consumer name used inside the group.
func (d *Dispatcher) Consumer() string {
	return d.cfg.Consumer
}

// Stream returns the name of the job stream.
func (d *Dispatcher) Stream() string {
	return d.cfg.Stream
}

// DelayedKey returns the sorted set holding jobs that are not due yet.
func (d *Dispatcher) DelayedKey() string {
	return d.cfg.Stream + ":delayed"
}

// DLQStream returns the dead letter stream name: aicheck:jobs:v1:grading -> aicheck:dlq:v1:grading.
func (d *Dispatcher) DLQStream() string {
	if strings.Contains(d.cfg.Stream, "jobs:") {
		return strings.Replace(d.cfg.Stream, "jobs:", "dlq:", 1)
	}
	return d.cfg.Stream + ":dlq"
}

// EnsureGroup creates the consumer group and the stream if needed.
func (d *Dispatcher) EnsureGroup(ctx context.Context) error {
	err := d.client.XGroupCreateMkStream(ctx, d.cfg.Stream, d.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Enqueue assigns a job id if needed and adds the job to the stream, or to the delayed
// set when runAfter is positive.
func (d *Dispatcher) Enqueue(ctx context.Context, job Job, runAfter time.Duration) (Job, error) {
	now := d.now()
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.Type == "" {
		job.Type = JobTypeProcessSubmission
	}
	job.EnqueuedAt = now.UTC()

	payload, err := encodeJob(job)
	if err != nil {
		return Job{}, err
	}

	if runAfter > 0 {
		due := float64(now.Add(runAfter).UnixMilli())
		if err := d.client.ZAdd(ctx, d.DelayedKey(), redis.Z{Score: due, Member: payload}).Err(); err != nil {
			return Job{}, fmt.Errorf("schedule job: %w", err)
		}
		observability.JobsEnqueued().WithLabelValues("delayed").Inc()
		return job, nil
	}

	if err := d.add(ctx, job.JobID, payload); err != nil {
		return Job{}, err
	}
	observability.JobsEnqueued().WithLabelValues("immediate").Inc()
	return job, nil
}

func (d *Dispatcher) add(ctx context.Context, jobID, payload string) error {
	err := d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: d.cfg.Stream,
		Values: map[string]interface{}{
			"job_id":  jobID,
			"type":    JobTypeProcessSubmission,
			"payload": payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// PromoteDue moves delayed jobs whose due time has passed onto the stream. The move
// runs as one script, so concurrent promoters never duplicate a job and a failed
// XADD leaves the job in the delayed set for the next attempt.
func (d *Dispatcher) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	promoted, err := promoteScript.Run(ctx, d.client,
		[]string{d.DelayedKey(), d.cfg.Stream},
		strconv.FormatInt(now.UnixMilli(), 10), d.cfg.PromoteSize, JobTypeProcessSubmission,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote due jobs: %w", err)
	}
	return promoted, nil
}

// Read returns the next message for this consumer, or nil when none arrived in time.
// Entries this consumer read before a restart come first, then entries another
// consumer left idle for longer than ClaimIdle, then new entries.
func (d *Dispatcher) Read(ctx context.Context) (*Message, error) {
	if !d.backlogDrained.Load() {
		entry, err := d.readGroup(ctx, "0", -1)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return newMessage(*entry, true), nil
		}
		d.backlogDrained.Store(true)
	}

	if d.cfg.ClaimIdle > 0 {
		entry, err := d.claimIdle(ctx)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return newMessage(*entry, true), nil
		}
	}

	entry, err := d.readGroup(ctx, ">", d.cfg.Block)
	if err != nil || entry == nil {
		return nil, err
	}
	return newMessage(*entry, false), nil
}

func (d *Dispatcher) readGroup(ctx context.Context, id string, block time.Duration) (*redis.XMessage, error) {
	streams, err := d.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    d.cfg.Group,
		Consumer: d.cfg.Consumer,
		Streams:  []string{d.cfg.Stream, id},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read from stream: %w", err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}
	return &streams[0].Messages[0], nil
}

func (d *Dispatcher) claimIdle(ctx context.Context) (*redis.XMessage, error) {
	messages, _, err := d.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   d.cfg.Stream,
		Group:    d.cfg.Group,
		Consumer: d.cfg.Consumer,
		MinIdle:  d.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim idle entries: %w", err)
	}
	if len(messages) == 0 {
		return nil, nil
	}
	return &messages[0], nil
}

func newMessage(entry redis.XMessage, redelivered bool) *Message {
	message := &Message{ID: entry.ID, Redelivered: redelivered}
	raw, _ := entry.Values["payload"].(string)
	message.Raw = raw
	message.Job, message.DecodeErr = decodeJob(raw)
	return message
}

// Ack acknowledges a processed message.
func (d *Dispatcher) Ack(ctx context.Context, messageID string) error {
	return d.client.XAck(ctx, d.cfg.Stream, d.cfg.Group, messageID).Err()
}

// MoveToDLQ copies a message to the dead letter stream with the failure reason.
func (d *Dispatcher) MoveToDLQ(ctx context.Context, message *Message, reason string) error {
	fields := map[string]interface{}{
		"original_message_id": message.ID,
		"original_queue":      d.cfg.Stream,
		"reason":              reason,
		"moved_at":            d.now().UTC().Format(time.RFC3339),
		"worker_id":           d.cfg.Consumer,
		"job_id":              message.Job.JobID,
		"payload":             message.Raw,
	}

	return d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: d.DLQStream(),
		Values: fields,
	}).Err()
}

// Stats reports stream, delayed, pending and dead letter counts.
func (d *Dispatcher) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Stream: d.cfg.Stream}

	length, err := d.client.XLen(ctx, d.cfg.Stream).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("stream length: %w", err)
	}
	stats.Length = length

	delayed, err := d.client.ZCard(ctx, d.DelayedKey()).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("delayed count: %w", err)
	}
	stats.Delayed = delayed

	if pending, err := d.client.XPending(ctx, d.cfg.Stream, d.cfg.Group).Result(); err == nil {
		stats.Pending = pending.Count
	}

	dlq, err := d.client.XLen(ctx, d.DLQStream()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("dlq length: %w", err)
	}
	stats.DLQ = dlq

	return stats, nil
}
