package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/orderline/api/internal/services"
)

// SMS job kinds carried in the "kind" attribute.
const (
	KindOrderShipped   = "order.shipped"
	KindOrderDelivered = "order.delivered"
)

// SMSJob is the payload handed to the SMS delivery worker.
type SMSJob struct {
	Kind        string    `json:"kind"`
	Phone       string    `json:"phone"`
	OrderNumber string    `json:"orderNumber"`
	TrackingID  string    `json:"trackingId,omitempty"`
	Body        string    `json:"body"`
	QueuedAt    time.Time `json:"queuedAt"`
}

type publishFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// PubSubNotifier hands order SMS jobs to a Pub/Sub topic behind a circuit
// breaker, so a stalled topic fails fast instead of holding transitions.
type PubSubNotifier struct {
	publish publishFunc
	breaker *gobreaker.CircuitBreaker[string]
	clock   func() time.Time
	marshal func(any) ([]byte, error)
}

var _ services.Notifier = (*PubSubNotifier)(nil)

// Options tunes the breaker and clock.
type Options struct {
	// ConsecutiveFailures opens the breaker; zero means 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open; zero means 30s.
	OpenTimeout time.Duration
	Clock       func() time.Time
	Logger      *zap.Logger
}

// NewPubSubNotifier constructs a notifier publishing to topic.
func NewPubSubNotifier(topic *pubsub.Topic, opts Options) (*PubSubNotifier, error) {
	if topic == nil {
		return nil, errors.New("pubsub notifier: topic is required")
	}
	publish := func(ctx context.Context, msg *pubsub.Message) (string, error) {
		return topic.Publish(ctx, msg).Get(ctx)
	}
	return newNotifier(publish, opts), nil
}

func newNotifier(publish publishFunc, opts Options) *PubSubNotifier {
	failures := opts.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	timeout := opts.OpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "sms-pubsub",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("notify: circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &PubSubNotifier{
		publish: publish,
		breaker: breaker,
		clock:   clock,
		marshal: json.Marshal,
	}
}

// NotifyShipped queues the shipment SMS.
func (n *PubSubNotifier) NotifyShipped(ctx context.Context, phone, orderNumber, trackingID string) error {
	body := fmt.Sprintf("Your order %s has shipped. Tracking ID: %s", orderNumber, trackingID)
	return n.send(ctx, SMSJob{
		Kind:        KindOrderShipped,
		Phone:       phone,
		OrderNumber: orderNumber,
		TrackingID:  trackingID,
		Body:        body,
	})
}

// NotifyDelivered queues the delivery SMS.
func (n *PubSubNotifier) NotifyDelivered(ctx context.Context, phone, orderNumber string) error {
	body := fmt.Sprintf("Your order %s has been delivered. Thank you for shopping with us.", orderNumber)
	return n.send(ctx, SMSJob{
		Kind:        KindOrderDelivered,
		Phone:       phone,
		OrderNumber: orderNumber,
		Body:        body,
	})
}

func (n *PubSubNotifier) send(ctx context.Context, job SMSJob) error {
	job.Phone = strings.TrimSpace(job.Phone)
	if job.Phone == "" {
		return errors.New("notify: phone is required")
	}
	job.QueuedAt = n.clock().UTC()

	data, err := n.marshal(job)
	if err != nil {
		return fmt.Errorf("notify: marshal sms job: %w", err)
	}

	_, err = n.breaker.Execute(func() (string, error) {
		return n.publish(ctx, &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"kind":        job.Kind,
				"orderNumber": job.OrderNumber,
			},
		})
	})
	if err != nil {
		return fmt.Errorf("notify: publish %s: %w", job.Kind, err)
	}
	return nil
}
