package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hsync/entity"
)

func TestMemory_CodeUniqueAmongUnusedOnly(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	first := testVoucher(now)
	_, err := m.InsertVoucher(ctx, first, entity.Funding{})
	require.NoError(t, err)

	_, err = m.InsertVoucher(ctx, testVoucher(now), entity.Funding{})
	assert.ErrorIs(t, err, entity.ErrDuplicateCode)

	changed, err := m.MarkUsed(ctx, []int64{first.Id}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	second := testVoucher(now)
	_, err = m.InsertVoucher(ctx, second, entity.Funding{})
	require.NoError(t, err)

	found, err := m.GetVoucherByCode(ctx, "4821")
	require.NoError(t, err)
	assert.Equal(t, second.Id, found.Id)
}

func TestMemory_OrderCompletesOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, m.CreateOrder(ctx, &entity.Order{OrderId: "ORD1", Status: entity.OrderPending, Customer: entity.Customer{Country: "Poland"}}))

	orderId := "ORD1"
	v := testVoucher(now)
	v.OrderId = &orderId
	_, err := m.InsertVoucher(ctx, v, entity.Funding{OrderId: &orderId, PaymentReference: "tx-1"})
	require.NoError(t, err)

	again := testVoucher(now)
	again.Code = "9999"
	again.OrderId = &orderId
	_, err = m.InsertVoucher(ctx, again, entity.Funding{OrderId: &orderId})
	assert.ErrorIs(t, err, entity.ErrDuplicateOrder)

	order, err := m.GetOrder(ctx, "ORD1")
	require.NoError(t, err)
	assert.Equal(t, entity.OrderCompleted, order.Status)
	assert.Equal(t, "tx-1", order.PaymentReference)
	assert.Equal(t, "PL", order.Customer.Country)

	assert.ErrorIs(t, m.FailOrder(ctx, "ORD1", "tx-2", now), entity.ErrOrderNotPending)
}

func TestMemory_FailedInsertLeavesFundingUntouched(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()
	reseller := &entity.Reseller{Name: "kiosk"}
	_, err := m.CreateReseller(ctx, reseller)
	require.NoError(t, err)
	_, err = m.CreditReseller(ctx, reseller.Id, 5000)
	require.NoError(t, err)

	_, err = m.InsertVoucher(ctx, testVoucher(now), entity.Funding{})
	require.NoError(t, err)

	// same code as the unused voucher above: nothing may be debited
	_, err = m.InsertVoucher(ctx, testVoucher(now), entity.Funding{ResellerId: &reseller.Id, Amount: 3000})
	assert.ErrorIs(t, err, entity.ErrDuplicateCode)

	r, err := m.GetReseller(ctx, reseller.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), r.Balance)
}

func TestMemory_ActiveVouchersRetention(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	old := testVoucher(now)
	old.Code = "1111"
	recent := testVoucher(now)
	recent.Code = "2222"
	unused := testVoucher(now)
	unused.Code = "3333"
	for _, v := range []*entity.Voucher{old, recent, unused} {
		_, err := m.InsertVoucher(ctx, v, entity.Funding{})
		require.NoError(t, err)
	}
	_, _ = m.MarkUsed(ctx, []int64{old.Id}, now.Add(-48*time.Hour))
	_, _ = m.MarkUsed(ctx, []int64{recent.Id}, now.Add(-time.Hour))

	active, err := m.ActiveVouchers(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, recent.Id, active[0].Id)
	assert.Equal(t, unused.Id, active[1].Id)
}
