package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clipline/clipline/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	StepQueueName = "pipeline_steps"
	ExchangeName  = "clipline"
)

// Step task actions. One message per requested step; the worker decides
// whether a cooperative reset is needed when it picks the task up.
const (
	ActionExtractAudio     = "extract-audio"
	ActionTranscribe       = "transcribe"
	ActionAnalyzeStructure = "analyze-structure"
	ActionAnalyzeContent   = "analyze-content"
	ActionGenerateClips    = "generate-clips"
	ActionProcessFull      = "process-full"
)

// StepTask is the unit of work the API publishes and the worker consumes.
type StepTask struct {
	JobID  int64  `json:"jobId"`
	Action string `json:"action"`

	// Analysis parameters, meaningful for ActionAnalyzeContent only.
	UserRequirement string `json:"userRequirement,omitempty"`
	CustomPrompt    string `json:"customPrompt,omitempty"`
}

// Queue provides message queue operations
type Queue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// New creates a new queue client
func New(cfg config.QueueConfig) (*Queue, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Declare exchange
	err = channel.ExchangeDeclare(
		ExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Declare queue
	_, err = channel.QueueDeclare(
		StepQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	// Bind queue to exchange
	err = channel.QueueBind(
		StepQueueName,
		StepQueueName,
		ExchangeName,
		false,
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	return &Queue{
		conn:    conn,
		channel: channel,
	}, nil
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// PublishStep publishes a step task to the queue
func (q *Queue) PublishStep(ctx context.Context, task *StepTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal step task: %w", err)
	}

	err = q.channel.PublishWithContext(ctx,
		ExchangeName,
		StepQueueName,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish step task: %w", err)
	}

	return nil
}

// ConsumeSteps starts consuming step tasks from the queue. The handler is
// expected to record step failures on the job itself and return nil; a
// non-nil error requeues the message.
func (q *Queue) ConsumeSteps(ctx context.Context, handler func(*StepTask) error) error {
	// Set QoS to limit concurrent processing
	err := q.channel.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		StepQueueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				var task StepTask
				if err := json.Unmarshal(msg.Body, &task); err != nil {
					msg.Nack(false, false)
					continue
				}

				if err := handler(&task); err != nil {
					msg.Nack(false, true)
				} else {
					msg.Ack(false)
				}
			}
		}
	}()

	return nil
}

// GetQueueDepth returns the number of messages in the queue
func (q *Queue) GetQueueDepth() (int, error) {
	info, err := q.channel.QueueInspect(StepQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return info.Messages, nil
}
