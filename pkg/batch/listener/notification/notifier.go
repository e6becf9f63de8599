// Package notification publishes the outcome of finished jobs and steps.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Event is the message published for a finished job or step.
type Event struct {
	Kind           string            `json:"kind"` // "job" or "step"
	JobName        string            `json:"job_name"`
	JobExecutionID string            `json:"job_execution_id"`
	StepName       string            `json:"step_name,omitempty"`
	Status         model.BatchStatus `json:"status"`
	ExitStatus     model.ExitStatus  `json:"exit_status"`
	StartTime      time.Time         `json:"start_time"`
	EndTime        *time.Time        `json:"end_time,omitempty"`
	ReadCount      int               `json:"read_count,omitempty"`
	WriteCount     int               `json:"write_count,omitempty"`
	SkipCount      int               `json:"skip_count,omitempty"`
	Failures       []string          `json:"failures,omitempty"`
}

// JobEvent describes a finished job execution.
func JobEvent(je *model.JobExecution) Event {
	return Event{
		Kind:           "job",
		JobName:        je.JobName,
		JobExecutionID: je.ID,
		Status:         je.Status,
		ExitStatus:     je.ExitStatus,
		StartTime:      je.StartTime,
		EndTime:        je.EndTime,
		Failures:       je.Failures,
	}
}

// StepEvent describes a finished step execution.
func StepEvent(se *model.StepExecution) Event {
	e := Event{
		Kind:           "step",
		JobExecutionID: se.JobExecutionID,
		StepName:       se.StepName,
		Status:         se.Status,
		ExitStatus:     se.ExitStatus,
		StartTime:      se.StartTime,
		EndTime:        se.EndTime,
		ReadCount:      se.ReadCount,
		WriteCount:     se.WriteCount,
		SkipCount:      se.SkipCount(),
		Failures:       se.Failures,
	}
	if se.JobExecution != nil {
		e.JobName = se.JobExecution.JobName
		e.JobExecutionID = se.JobExecution.ID
	}
	return e
}

// LogNotifier writes notifications to the log.
type LogNotifier struct{}

var _ port.Notifier = (*LogNotifier)(nil)

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) NotifyJobCompletion(_ context.Context, je *model.JobExecution) error {
	msg := fmt.Sprintf("Job '%s' (run %s) finished with %s/%s.", je.JobName, je.ID, je.Status, je.ExitStatus)
	if je.Status == model.BatchStatusCompleted {
		logger.Infof("%s", msg)
	} else {
		logger.Warnf("%s Failures: %d", msg, len(je.Failures))
	}
	return nil
}

func (n *LogNotifier) NotifyStepCompletion(_ context.Context, se *model.StepExecution) error {
	logger.Debugf("Step '%s' finished with %s/%s.", se.StepName, se.Status, se.ExitStatus)
	return nil
}

// Publisher is the part of a Redis client used by RedisNotifier.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes events as JSON on a Redis channel.
type RedisNotifier struct {
	client  Publisher
	channel string
}

var _ port.Notifier = (*RedisNotifier)(nil)

// NewRedisNotifier publishes on channel through client.
func NewRedisNotifier(client Publisher, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

// NewRedisClient creates a client from cfg.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func (n *RedisNotifier) NotifyJobCompletion(ctx context.Context, je *model.JobExecution) error {
	return n.publish(ctx, JobEvent(je))
}

func (n *RedisNotifier) NotifyStepCompletion(ctx context.Context, se *model.StepExecution) error {
	return n.publish(ctx, StepEvent(se))
}

func (n *RedisNotifier) publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Kind, err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s event to '%s': %w", e.Kind, n.channel, err)
	}
	return nil
}
