package notify

import (
	"context"
	"net/http"
	"time"

	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/log"
	"github.com/Scaleup-Excellenteam/nvidia-orchestrator/pkg/metrics"
)

// Notifier is the outbound surface the orchestrator and monitor use.
type Notifier interface {
	// EnqueueRegister announces a container endpoint to discovery.
	EnqueueRegister(msg DiscoveryMessage)

	// EnqueueStatus marks a known endpoint UP or DOWN.
	EnqueueStatus(containerID, status string)

	// EnqueueDeleteEndpoint removes an endpoint for a gone container.
	EnqueueDeleteEndpoint(containerID string)

	// EnqueueBilling reports a started/stopped/removed usage event.
	EnqueueBilling(ev BillingEvent)
}

// Endpoint status values understood by discovery.
const (
	StatusUp   = "UP"
	StatusDown = "DOWN"
)

const (
	queueSize    = 256
	maxAttempts  = 3
	retryBackoff = 500 * time.Millisecond
)

type job struct {
	collaborator string
	send         func(ctx context.Context) error
}

// Queue is the production Notifier: a buffered channel drained by one
// worker. Enqueue methods never block; when the buffer is full the
// notification is dropped and counted.
type Queue struct {
	discovery *DiscoveryClient
	billing   *BillingClient
	jobs      chan job
	stopCh    chan struct{}
	doneCh    chan struct{}
}

var _ Notifier = (*Queue)(nil)

// NewQueue builds a queue for the given clients. Either client may be nil;
// its notifications are then discarded at enqueue time.
func NewQueue(discovery *DiscoveryClient, billing *BillingClient) *Queue {
	return &Queue{
		discovery: discovery,
		billing:   billing,
		jobs:      make(chan job, queueSize),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the delivery worker.
func (q *Queue) Start() {
	go q.run()
}

// Stop shuts the worker down. Queued notifications not yet delivered are
// abandoned.
func (q *Queue) Stop() {
	close(q.stopCh)
	<-q.doneCh
}

func (q *Queue) EnqueueRegister(msg DiscoveryMessage) {
	if q.discovery == nil {
		return
	}
	q.enqueue(job{collaborator: "discovery", send: func(ctx context.Context) error {
		return q.discovery.RegisterEndpoint(ctx, msg)
	}})
}

func (q *Queue) EnqueueStatus(containerID, status string) {
	if q.discovery == nil {
		return
	}
	q.enqueue(job{collaborator: "discovery", send: func(ctx context.Context) error {
		return q.discovery.SetStatus(ctx, containerID, status)
	}})
}

func (q *Queue) EnqueueDeleteEndpoint(containerID string) {
	if q.discovery == nil {
		return
	}
	q.enqueue(job{collaborator: "discovery", send: func(ctx context.Context) error {
		return q.discovery.DeleteEndpoint(ctx, containerID)
	}})
}

func (q *Queue) EnqueueBilling(ev BillingEvent) {
	if q.billing == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	q.enqueue(job{collaborator: "billing", send: func(ctx context.Context) error {
		return q.billing.AppendEvent(ctx, ev)
	}})
}

func (q *Queue) enqueue(j job) {
	select {
	case q.jobs <- j:
	default:
		metrics.NotificationsDropped.Inc()
		logger := log.WithComponent("notify")
		logger.Warn().
			Str("collaborator", j.collaborator).
			Msg("outbound queue full, dropping notification")
	}
}

func (q *Queue) run() {
	defer close(q.doneCh)
	for {
		select {
		case j := <-q.jobs:
			q.deliver(j)
		case <-q.stopCh:
			return
		}
	}
}

// deliver tries a job up to maxAttempts with exponential backoff, then
// gives up quietly.
func (q *Queue) deliver(j job) {
	backoff := retryBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
		err := j.send(ctx)
		cancel()
		if err == nil {
			metrics.NotificationsTotal.WithLabelValues(j.collaborator, "ok").Inc()
			return
		}

		logger := log.WithComponent("notify")
		logger.Warn().
			Err(err).
			Str("collaborator", j.collaborator).
			Int("attempt", attempt).
			Msg("notification delivery failed")

		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-q.stopCh:
			return
		}
		backoff *= 2
	}
	metrics.NotificationsTotal.WithLabelValues(j.collaborator, "error").Inc()
}

// Nop discards every notification. Used when no collaborator is configured
// and in tests.
type Nop struct{}

var _ Notifier = Nop{}

func (Nop) EnqueueRegister(DiscoveryMessage) {}
func (Nop) EnqueueStatus(string, string)     {}
func (Nop) EnqueueDeleteEndpoint(string)     {}
func (Nop) EnqueueBilling(BillingEvent)      {}

// SelfRegister announces this orchestrator instance to the discovery
// registry at startup, retrying with exponential backoff before giving up
// quietly.
func SelfRegister(ctx context.Context, registryURL, instanceID, healthURL string) {
	logger := log.WithComponent("notify")
	if registryURL == "" {
		logger.Info().Msg("self-registration skipped, registry url not set")
		return
	}

	hc := &http.Client{Timeout: clientTimeout}
	payload := map[string]string{
		"id":     instanceID,
		"kind":   "orchestrator",
		"url":    healthURL,
		"status": StatusUp,
	}

	backoff := time.Second
	for attempt := 1; attempt <= 5; attempt++ {
		err := postJSON(ctx, hc, registryURL, payload)
		if err == nil {
			logger.Info().Msg("registered with discovery")
			return
		}
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Msg("self-registration failed")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	logger.Error().Msg("gave up registering with discovery")
}
