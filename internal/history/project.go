package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmehdipour/paysms/internal/metrics"
	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmehdipour/paysms/internal/repository"
)

// Split decodes envelopes into their message and bill payloads. Unknown
// kinds are an error.
func Split(records []model.Envelope) ([]model.Message, []model.Bill, error) {
	var (
		msgs  []model.Message
		bills []model.Bill
	)
	for _, r := range records {
		switch r.Kind {
		case model.RecordMessage:
			var m model.Message
			if err := json.Unmarshal(r.Payload, &m); err != nil {
				return nil, nil, fmt.Errorf("decode message %s: %w", r.ID, err)
			}
			msgs = append(msgs, m)
		case model.RecordBill:
			var b model.Bill
			if err := json.Unmarshal(r.Payload, &b); err != nil {
				return nil, nil, fmt.Errorf("decode bill %s: %w", r.ID, err)
			}
			bills = append(bills, b)
		default:
			return nil, nil, fmt.Errorf("unknown record kind %q for %s", r.Kind, r.ID)
		}
	}
	return msgs, bills, nil
}

// Project writes decoded envelopes to w.
func Project(ctx context.Context, w repository.HistoryWriter, records []model.Envelope) error {
	msgs, bills, err := Split(records)
	if err != nil {
		return err
	}
	if len(msgs) > 0 {
		if err := w.InsertMessages(ctx, msgs); err != nil {
			return fmt.Errorf("insert messages: %w", err)
		}
		metrics.ProjectedRecords.WithLabelValues(string(model.RecordMessage)).Add(float64(len(msgs)))
	}
	if len(bills) > 0 {
		if err := w.InsertBills(ctx, bills); err != nil {
			return fmt.Errorf("insert bills: %w", err)
		}
		metrics.ProjectedRecords.WithLabelValues(string(model.RecordBill)).Add(float64(len(bills)))
	}
	return nil
}
