// Package worker dispatches match jobs to the external batch worker and
// tracks which session each run belongs to.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/barockok/kalla-engine/pkg/apperrors"
	"github.com/barockok/kalla-engine/pkg/models"
	"github.com/barockok/kalla-engine/pkg/retry"
)

const (
	streamName  = "KALLA_EXEC"
	execSubject = "kalla.exec"
)

// Dispatcher hands a one-shot match job to the batch worker. The worker
// reports back through the callback routes; nothing is held open here.
type Dispatcher interface {
	Dispatch(ctx context.Context, job models.MatchJob) error
}

// NATSDispatcher publishes jobs onto a JetStream work queue. Exactly one
// worker instance consumes each job; durability is the stream's.
type NATSDispatcher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewNATSDispatcher connects to NATS and ensures the exec stream exists.
func NewNATSDispatcher(natsURL string, logger *zap.Logger) (*NATSDispatcher, error) {
	conn, err := nats.Connect(natsURL, nats.Name("kalla-engine"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open jetstream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{execSubject},
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}

	return &NATSDispatcher{
		conn:   conn,
		js:     js,
		logger: logger.Named("worker"),
	}, nil
}

// Dispatch publishes the job. Publish failure surfaces as an upstream
// error so the orchestrator can tell the user the worker is unreachable.
func (d *NATSDispatcher) Dispatch(ctx context.Context, job models.MatchJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal match job %s: %w", job.RunID, err)
	}

	err = retry.Do(ctx, nil, func() error {
		_, perr := d.js.Publish(execSubject, payload, nats.Context(ctx))
		return perr
	})
	if err != nil {
		return fmt.Errorf("%w: failed to dispatch run %s: %v", apperrors.ErrUpstream, job.RunID, err)
	}

	d.logger.Info("Match job dispatched",
		zap.String("run_id", job.RunID.String()),
		zap.String("subject", execSubject))
	return nil
}

// Close drains the connection.
func (d *NATSDispatcher) Close() {
	d.conn.Close()
}

var _ Dispatcher = (*NATSDispatcher)(nil)
