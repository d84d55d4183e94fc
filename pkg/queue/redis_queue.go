package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"leadmachine/internal/util"
	"leadmachine/pkg/domain"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// PersistJob is a deferred write of a generated export. The export body
// travels in the job hash so the stream entry stays small.
type PersistJob struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	Export       domain.LeadExport `json:"export"`
	Charged      bool              `json:"charged"`
	Status       string            `json:"status"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	Attempts     int               `json:"attempts"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// ErrJobLost means a stream entry's job hash expired or cannot be decoded.
// Such jobs go straight to the failure handler, rebuilt from the entry.
var ErrJobLost = errors.New("persist job payload lost")

// Handler processes one job. A non-nil error schedules a retry.
type Handler func(context.Context, PersistJob) error

// FailureHandler runs once a job has used all its attempts.
type FailureHandler func(context.Context, PersistJob, error)

type RedisJobQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	jobTTL       time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

type RedisQueueConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewRedisJobQueue(cfg RedisQueueConfig) (*RedisJobQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "default"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	q := &RedisJobQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		jobTTL:       durationOr(cfg.JobTTL, 24*time.Hour),
		maxRetries:   cfg.MaxRetries,
		block:        durationOr(cfg.Block, 5*time.Second),
		claimIdle:    durationOr(cfg.ClaimIdle, 30*time.Second),
		retryDelay:   durationOr(cfg.RetryDelay, 2*time.Second),
		maxLen:       cfg.MaxLen,
		readCount:    cfg.ReadCount,
		claimCount:   cfg.ClaimCount,
	}
	if q.maxRetries <= 0 {
		q.maxRetries = 3
	}
	if q.maxLen <= 0 {
		q.maxLen = 10000
	}
	if q.readCount <= 0 {
		q.readCount = 10
	}
	if q.claimCount <= 0 {
		q.claimCount = 10
	}
	return q, nil
}

func durationOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// Close releases the redis connection pool.
func (q *RedisJobQueue) Close() error {
	return q.client.Close()
}

// Enqueue stores the export payload and appends a stream entry for it.
func (q *RedisJobQueue) Enqueue(ctx context.Context, userID string, export domain.LeadExport, charged bool) (PersistJob, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return PersistJob{}, errors.New("userId required")
	}
	if strings.TrimSpace(export.ID) == "" {
		return PersistJob{}, errors.New("export id required")
	}
	now := time.Now().UTC()
	job := PersistJob{
		ID:        util.NewID(),
		UserID:    userID,
		Export:    export,
		Charged:   charged,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return PersistJob{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: streamValues(job),
	}).Err(); err != nil {
		return PersistJob{}, err
	}
	return job, nil
}

func (q *RedisJobQueue) GetJob(ctx context.Context, jobID string) (PersistJob, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return PersistJob{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return PersistJob{}, false, err
	}
	if len(data) == 0 {
		return PersistJob{}, false, nil
	}
	job, err := decodeJob(jobID, data)
	if err != nil {
		return PersistJob{}, false, err
	}
	return job, true, nil
}

// Start launches concurrency consumers. onFailed may be nil.
func (q *RedisJobQueue) Start(ctx context.Context, concurrency int, handler Handler, onFailed FailureHandler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler, onFailed)
	}
}

func (q *RedisJobQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		// BUSYGROUP means another replica created it first.
		_ = q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	})
}

func (q *RedisJobQueue) consumeLoop(ctx context.Context, consumer string, handler Handler, onFailed FailureHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler, onFailed)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler, onFailed)
			}
		}
	}
}

func (q *RedisJobQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisJobQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler, onFailed FailureHandler) {
	jobID, _ := msg.Values["job_id"].(string)
	userID, _ := msg.Values["user_id"].(string)
	if jobID == "" || userID == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job, err := q.markProcessing(ctx, jobID)
	if errors.Is(err, ErrJobLost) {
		job = jobFromMessage(jobID, userID, msg.Values)
		slog.Error("persist_job_lost", "job_id", jobID, "user_id", userID, "export_id", job.Export.ID, "charged", job.Charged, "err", err)
		q.ackAndDel(ctx, msg.ID)
		if onFailed != nil {
			onFailed(ctx, job, err)
		}
		return
	}
	if err != nil {
		// Left pending; claimPending retries it after claimIdle.
		slog.Warn("persist_job_deferred", "job_id", jobID, "err", err)
		return
	}
	handlerErr := handler(ctx, job)
	if handlerErr == nil {
		_ = q.setStatus(ctx, jobID, StatusDone, "")
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if job.Attempts >= q.maxRetries {
		_ = q.setStatus(ctx, jobID, StatusFailed, handlerErr.Error())
		q.ackAndDel(ctx, msg.ID)
		if onFailed != nil {
			onFailed(ctx, job, handlerErr)
		}
		return
	}
	_ = q.setStatus(ctx, jobID, StatusQueued, handlerErr.Error())
	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
	_ = q.requeueAndAck(ctx, msg.ID, job)
}

func (q *RedisJobQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func (q *RedisJobQueue) requeueAndAck(ctx context.Context, msgID string, job PersistJob) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: streamValues(job),
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisJobQueue) markProcessing(ctx context.Context, jobID string) (PersistJob, error) {
	job, ok, err := q.GetJob(ctx, jobID)
	if err != nil {
		return PersistJob{}, err
	}
	if !ok {
		return PersistJob{}, fmt.Errorf("%w: job %s expired", ErrJobLost, jobID)
	}
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if err := q.writeStatus(ctx, job); err != nil {
		return PersistJob{}, err
	}
	return job, nil
}

func (q *RedisJobQueue) setStatus(ctx context.Context, jobID, status, errMsg string) error {
	return q.client.HSet(ctx, q.jobKey(jobID), map[string]any{
		"status":    status,
		"error":     errMsg,
		"updatedAt": time.Now().UTC().Format(time.RFC3339Nano),
	}).Err()
}

func (q *RedisJobQueue) writeStatus(ctx context.Context, job PersistJob) error {
	payload, err := json.Marshal(job.Export)
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	key := q.jobKey(job.ID)
	fields := map[string]any{
		"id":        job.ID,
		"userId":    job.UserID,
		"export":    string(payload),
		"charged":   strconv.FormatBool(job.Charged),
		"status":    job.Status,
		"error":     job.ErrorMessage,
		"attempts":  strconv.Itoa(job.Attempts),
		"createdAt": job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, fields).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.jobTTL).Err()
	return nil
}

// streamValues carries enough of the job to compensate it if the hash is lost.
func streamValues(job PersistJob) map[string]any {
	return map[string]any{
		"job_id":    job.ID,
		"user_id":   job.UserID,
		"export_id": job.Export.ID,
		"charged":   strconv.FormatBool(job.Charged),
	}
}

func jobFromMessage(jobID, userID string, values map[string]any) PersistJob {
	exportID, _ := values["export_id"].(string)
	charged, _ := values["charged"].(string)
	ok, _ := strconv.ParseBool(charged)
	return PersistJob{
		ID:      jobID,
		UserID:  userID,
		Export:  domain.LeadExport{ID: exportID, OwnerUserID: userID},
		Charged: ok,
		Status:  StatusFailed,
	}
}

func (q *RedisJobQueue) jobKey(jobID string) string {
	return fmt.Sprintf("job:%s:%s", q.stream, jobID)
}

func decodeJob(jobID string, data map[string]string) (PersistJob, error) {
	job := PersistJob{
		ID:           jobID,
		UserID:       data["userId"],
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	if v := data["export"]; v != "" {
		if err := json.Unmarshal([]byte(v), &job.Export); err != nil {
			return PersistJob{}, fmt.Errorf("%w: decode export: %v", ErrJobLost, err)
		}
	}
	if v := data["charged"]; v != "" {
		job.Charged, _ = strconv.ParseBool(v)
	}
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			job.Attempts = n
		}
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.CreatedAt = t
		}
	}
	if v := data["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.UpdatedAt = t
		}
	}
	return job, nil
}
