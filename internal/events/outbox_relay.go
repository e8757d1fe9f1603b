package events

import (
	"context"
	"encoding/json"

	"github.com/segyhp/loan-servicing-engine/internal/repository"

	"github.com/sirupsen/logrus"
)

// OutboxStore is the part of the journal outbox the relay drains.
type OutboxStore interface {
	FetchPending(ctx context.Context, limit int) ([]repository.OutboxEntry, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) error
}

// OutboxRelay forwards queued journal entries to the general ledger exchange.
type OutboxRelay struct {
	store      OutboxStore
	publisher  Publisher
	routingKey string
	batchSize  int
	log        logrus.FieldLogger
}

func NewOutboxRelay(store OutboxStore, publisher Publisher, routingKey string, batchSize int, log logrus.FieldLogger) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{
		store:      store,
		publisher:  publisher,
		routingKey: routingKey,
		batchSize:  batchSize,
		log:        log,
	}
}

// RelayOnce publishes one batch and returns how many entries were sent.
// Entries are relayed in order; the batch stops at the first publish failure
// so later entries of the same loan never overtake an earlier one.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	entries, err := r.store.FetchPending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, e := range entries {
		if err := r.publisher.Publish(ctx, r.routingKey, json.RawMessage(e.Payload)); err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{
				"outbox_id": e.ID,
				"loan_id":   e.LoanID,
				"attempts":  e.Attempts + 1,
			}).Warn("failed to relay journal entries")
			if markErr := r.store.MarkFailed(ctx, e.ID, err); markErr != nil {
				return sent, markErr
			}
			return sent, nil
		}
		if err := r.store.MarkSent(ctx, e.ID); err != nil {
			return sent, err
		}
		sent++
	}

	if sent > 0 {
		r.log.WithField("count", sent).Info("relayed journal entries")
	}
	return sent, nil
}
