// Package events publishes a run-completed event for downstream consumers
// (notification workers, the RAG indexer) once a sync run finishes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"clinicsync/pkg/domain"
)

// Driver names an event transport.
type Driver string

// Supported transports.
const (
	DriverNone  Driver = "none"
	DriverKafka Driver = "kafka"
	DriverSQS   Driver = "sqs"
)

// EventType of the only event emitted today.
const EventRunCompleted = "clinicsync.run.completed"

// RunCompleted summarizes a finished run.
type RunCompleted struct {
	Type       string                    `json:"type"`
	RunID      string                    `json:"runId"`
	Status     domain.RunStatus          `json:"status"`
	StartedAt  time.Time                 `json:"startedAt"`
	FinishedAt time.Time                 `json:"finishedAt"`
	Statistics domain.Statistics         `json:"statistics"`
	Datasets   map[domain.Dataset]string `json:"datasets,omitempty"`
	ErrorCount int                       `json:"errorCount"`
}

// Encode renders the event as JSON, filling Type when unset.
func (e RunCompleted) Encode() ([]byte, error) {
	if e.Type == "" {
		e.Type = EventRunCompleted
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return b, nil
}

// Publisher delivers run events.
type Publisher interface {
	Publish(ctx context.Context, event RunCompleted) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, RunCompleted) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// Options selects and configures a transport.
type Options struct {
	Driver       Driver
	KafkaBrokers []string
	KafkaTopic   string
	SQSQueueURL  string
	AWSRegion    string
	AWSEndpoint  string
}

// Open builds the publisher named by opts.Driver.
func Open(ctx context.Context, opts Options) (Publisher, error) {
	switch opts.Driver {
	case "", DriverNone:
		return Nop{}, nil
	case DriverKafka:
		return NewKafka(opts.KafkaBrokers, opts.KafkaTopic)
	case DriverSQS:
		return NewSQS(ctx, opts.SQSQueueURL, opts.AWSRegion, opts.AWSEndpoint)
	default:
		return nil, fmt.Errorf("unsupported events driver %q", opts.Driver)
	}
}
