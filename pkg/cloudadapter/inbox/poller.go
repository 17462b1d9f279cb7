// Package inbox polls an SQS queue for inbound worker messages and
// dispatches each one to the originating Instance's HandleMessage.
// Messages are expected to carry the instance id that sent them so they
// can be routed to the right registry entry.
package inbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/cuemby/fleetwatch/pkg/log"
	"github.com/cuemby/fleetwatch/pkg/registry"
	"github.com/rs/zerolog"
)

// API is the subset of the SQS client the poller calls.
type API interface {
	ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(context.Context, *sqs.DeleteMessageInput, ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// envelope is the expected message body shape: {"instance_id": "...",
// "payload": "..."}. Any message that fails to parse is logged and
// deleted so it cannot wedge the queue.
type envelope struct {
	InstanceID string `json:"instance_id"`
	Payload    string `json:"payload"`
}

// Poller long-polls a single SQS queue and dispatches parsed messages.
type Poller struct {
	api      API
	queueURL string
	registry *registry.Registry
	waitTime int32
	logger   zerolog.Logger
}

// New creates a Poller over queueURL, routing messages through reg.
func New(api API, queueURL string, reg *registry.Registry) *Poller {
	return &Poller{
		api:      api,
		queueURL: queueURL,
		registry: reg,
		waitTime: 20,
		logger:   log.WithComponent("inbox"),
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info().Str("queue", p.queueURL).Msg("inbox poller started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("inbox poller stopped")
			return
		default:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	out, err := p.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &p.queueURL,
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     p.waitTime,
	})
	if err != nil {
		p.logger.Warn().Err(err).Msg("receive message failed, retrying")
		time.Sleep(time.Second)
		return
	}

	for _, msg := range out.Messages {
		p.dispatch(ctx, msg)
	}
}

func (p *Poller) dispatch(ctx context.Context, msg types.Message) {
	defer p.delete(ctx, msg)

	if msg.Body == nil {
		return
	}
	var env envelope
	if err := json.Unmarshal([]byte(*msg.Body), &env); err != nil {
		p.logger.Warn().Err(err).Msg("dropping malformed message")
		return
	}

	inst, ok := p.registry.Get(env.InstanceID)
	if !ok {
		p.logger.Debug().Str("instance_id", env.InstanceID).Msg("message for unknown instance, dropping")
		return
	}
	inst.HandleMessage(env.Payload)
}

func (p *Poller) delete(ctx context.Context, msg types.Message) {
	if msg.ReceiptHandle == nil {
		return
	}
	if _, err := p.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &p.queueURL,
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		p.logger.Warn().Err(err).Msg("delete message failed")
	}
}
