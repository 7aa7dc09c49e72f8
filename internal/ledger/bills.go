package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jmehdipour/paysms/internal/model"
	"github.com/jmehdipour/paysms/internal/repository"
	"github.com/jmehdipour/paysms/internal/util"
)

// Bills appends payment and refund entries. At most one bill of each type
// exists per order; re-recording returns the stored one.
type Bills struct {
	repo repository.BillsRepository
	now  func() time.Time
}

func NewBills(repo repository.BillsRepository) *Bills {
	return &Bills{repo: repo, now: time.Now}
}

// RecordPayment appends the payment bill for a paid order.
func (b *Bills) RecordPayment(ctx context.Context, o model.Order) (model.Bill, error) {
	return b.append(ctx, o, model.BillPayment, o.Amount, "payment: "+o.Description)
}

// RecordRefund appends the refund bill mirroring the payment bill's amount.
func (b *Bills) RecordRefund(ctx context.Context, o model.Order, payment model.Bill) (model.Bill, error) {
	return b.append(ctx, o, model.BillRefund, payment.Amount, "refund: "+o.Description)
}

func (b *Bills) Get(ctx context.Context, orderID string, typ model.BillType) (model.Bill, error) {
	bill, err := b.repo.Get(ctx, orderID, typ)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Bill{}, ErrBillNotFound
	}
	if err != nil {
		return model.Bill{}, storageErr("get bill", err)
	}
	return bill, nil
}

func (b *Bills) ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Bill, error) {
	bills, err := b.repo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, storageErr("list bills", err)
	}
	return bills, nil
}

func (b *Bills) append(ctx context.Context, o model.Order, typ model.BillType, amount model.Money, desc string) (model.Bill, error) {
	now := b.now().UTC()
	stored, err := b.repo.Insert(ctx, model.Bill{
		ID:          util.NewAt(now),
		UserID:      o.UserID,
		OrderID:     o.ID,
		Type:        typ,
		Amount:      amount,
		Description: desc,
		CreatedAt:   now,
	})
	if err != nil {
		return model.Bill{}, storageErr("append "+typ.String()+" bill", err)
	}
	return stored, nil
}
