// Package worker provides a NATS worker that serves synthesize requests.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/snr9816-service/internal/core"
	"github.com/book-expert/snr9816-service/internal/observability"
	"github.com/book-expert/snr9816-service/internal/synth"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	transportName = "nats"

	// DefaultHandleTimeout bounds a single request, including its wait for idle.
	DefaultHandleTimeout = 30 * time.Second
)

var (
	// ErrSubjectEmpty indicates that the subject is empty.
	ErrSubjectEmpty = errors.New("subject cannot be empty")
	// ErrNilConnection indicates that no NATS connection was provided.
	ErrNilConnection = errors.New("nats connection cannot be nil")
)

// NatsWorker listens for synthesize requests on a NATS subject and replies
// with the outcome.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	synthesizer    core.Synthesizer
	handleTimeout  time.Duration
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. A zero
// handleTimeout uses DefaultHandleTimeout.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	synthesizer core.Synthesizer,
	handleTimeout time.Duration,
	log *logger.Logger,
) (*NatsWorker, error) {
	if natsConnection == nil {
		return nil, ErrNilConnection
	}

	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	if handleTimeout <= 0 {
		handleTimeout = DefaultHandleTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		synthesizer:    synthesizer,
		handleTimeout:  handleTimeout,
		log:            log,
	}, nil
}

// Run starts the worker and serves requests until ctx is cancelled.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for synthesize requests on subject: %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	started := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), w.handleTimeout)
	defer cancel()

	req, err := w.parseRequest(msg)
	if err == nil {
		err = w.synthesizer.Synthesize(ctx, req)
	}

	outcome, _ := synth.Outcome(err)
	observability.RecordRequest(transportName, outcome, started)

	if err != nil {
		w.log.Error("Failed to synthesize request %s: %v", req.RequestID, err)
	}

	if msg.Reply == "" {
		return
	}

	replyErr := w.publishReply(msg, synth.Reply(req.RequestID, err))
	if replyErr != nil {
		w.log.Error("Failed to publish reply for request %s: %v", req.RequestID, replyErr)
	}
}

// publishReply marshals and responds with the SynthesizeReply.
func (w *NatsWorker) publishReply(msg *nats.Msg, reply core.SynthesizeReply) error {
	replyData, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply: %w", err)
	}

	return nil
}

func (w *NatsWorker) parseRequest(msg *nats.Msg) (core.SynthesizeRequest, error) {
	var req core.SynthesizeRequest

	err := json.Unmarshal(msg.Data, &req)
	if err != nil {
		return core.SynthesizeRequest{RequestID: uuid.NewString()}, fmt.Errorf("%w: %w", synth.ErrInvalidRequest, err)
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	return req, nil
}
