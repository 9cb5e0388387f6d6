package trigger

import (
	"context"
	"encoding/json"

	"github.com/nsqio/go-nsq"

	"github.com/docsignal/docsignal/internal/logging"
	"github.com/docsignal/docsignal/internal/tracing"
)

// TaskEvent is the message the processing pipeline publishes when a task
// changes state.
type TaskEvent struct {
	TaskID       string            `json:"task_id"`
	Status       string            `json:"status"`
	Extra        map[string]any    `json:"extra,omitempty"`
	TraceHeaders map[string]string `json:"trace_headers,omitempty"` // OTel trace propagation headers
}

// Consumer adapts NSQ task-event messages to trigger invocations.
type Consumer struct {
	consumer *nsq.Consumer
	logger   *logging.Logger
}

// NewConsumer builds the NSQ consumer for the events topic. Malformed
// messages are finished, never requeued: they would fail identically every
// time.
func NewConsumer(topic, channel string, trig *Trigger, logger *logging.Logger) (*Consumer, error) {
	conf := nsq.NewConfig()
	conf.MaxInFlight = 256
	consumer, err := nsq.NewConsumer(topic, channel, conf)
	if err != nil {
		return nil, err
	}

	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		var evt TaskEvent
		if err := json.Unmarshal(m.Body, &evt); err != nil {
			logger.Plain().WithError(err).Error("bad task event payload")
			return nil
		}

		ctx := tracing.ExtractTraceFromNSQ(context.Background(), evt.TraceHeaders)
		trig.OnTaskStateChange(ctx, evt.TaskID, evt.Status, evt.Extra)
		return nil
	}))

	return &Consumer{consumer: consumer, logger: logger}, nil
}

// Connect attaches the consumer to nsqd and nsqlookupd. Connecting directly
// to nsqd forces channel creation instead of it being lazily created on
// first publish.
func (c *Consumer) Connect(nsqdTCPAddr, lookupHTTPAddr string) error {
	if err := c.consumer.ConnectToNSQD(nsqdTCPAddr); err != nil {
		return err
	}
	return c.consumer.ConnectToNSQLookupd(lookupHTTPAddr)
}

// Stop stops consuming and blocks until in-flight handlers finish.
func (c *Consumer) Stop() {
	c.consumer.Stop()
	<-c.consumer.StopChan
}
