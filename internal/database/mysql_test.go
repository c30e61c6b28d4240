package database

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hsync/entity"
)

func newMock(t *testing.T) (*MySql, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db, slog.New(slog.NewTextHandler(io.Discard, nil))), mock
}

func testVoucher(now time.Time) *entity.Voucher {
	return &entity.Voucher{
		Code:        "4821",
		ProfileId:   1,
		ProfileName: "1 hour",
		Price:       3000,
		Duration:    entity.Duration{Amount: 1, Unit: entity.UnitHours},
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
}

func TestMySql_InsertVoucherForOrder(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	orderId := "ORD1"
	v := testVoucher(now)
	v.OrderId = &orderId

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs("completed", sqlmock.AnyArg(), "pay-1", "ORD1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO vouchers").
		WithArgs("4821", int64(1), "1 hour", int64(3000), 1, "hours", sqlmock.AnyArg(), sqlmock.AnyArg(), nil, "ORD1").
		WillReturnResult(sqlmock.NewResult(42, 1))
	mock.ExpectCommit()

	id, err := s.InsertVoucher(context.Background(), v, entity.Funding{OrderId: &orderId, PaymentReference: "pay-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, int64(42), v.Id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySql_InsertVoucherOrderAlreadyCompleted(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	orderId := "ORD1"
	v := testVoucher(now)
	v.OrderId = &orderId

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM orders").
		WithArgs("ORD1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))
	mock.ExpectRollback()

	_, err := s.InsertVoucher(context.Background(), v, entity.Funding{OrderId: &orderId})
	assert.ErrorIs(t, err, entity.ErrDuplicateOrder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySql_InsertVoucherOrderFailed(t *testing.T) {
	s, mock := newMock(t)
	orderId := "ORD2"
	v := testVoucher(time.Now().UTC())
	v.OrderId = &orderId

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM orders").
		WithArgs("ORD2").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("failed"))
	mock.ExpectRollback()

	_, err := s.InsertVoucher(context.Background(), v, entity.Funding{OrderId: &orderId})
	assert.ErrorIs(t, err, entity.ErrOrderNotPending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySql_InsertVoucherInsufficientBalance(t *testing.T) {
	s, mock := newMock(t)
	resellerId := int64(7)
	v := testVoucher(time.Now().UTC())
	v.ResellerId = &resellerId

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE resellers SET balance").
		WithArgs(int64(3000), int64(7), int64(3000)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT balance, active FROM resellers").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"balance", "active"}).AddRow(int64(2999), true))
	mock.ExpectRollback()

	_, err := s.InsertVoucher(context.Background(), v, entity.Funding{ResellerId: &resellerId, Amount: 3000})
	assert.ErrorIs(t, err, entity.ErrInsufficientBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySql_InsertVoucherDuplicateCodeRollsBackDebit(t *testing.T) {
	s, mock := newMock(t)
	resellerId := int64(7)
	v := testVoucher(time.Now().UTC())
	v.ResellerId = &resellerId

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE resellers SET balance").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO vouchers").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '4821' for key 'vouchers.uq_active_code'"})
	mock.ExpectRollback()

	_, err := s.InsertVoucher(context.Background(), v, entity.Funding{ResellerId: &resellerId, Amount: 3000})
	assert.ErrorIs(t, err, entity.ErrDuplicateCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySql_ActiveVouchers(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	usedAt := now.Add(-time.Hour)
	columns := []string{"id", "code", "profile_id", "profile_name", "price", "duration_amount", "duration_unit",
		"created_at", "expires_at", "used", "used_at", "reseller_id", "order_id"}

	mock.ExpectPrepare("SELECT (.+) FROM vouchers WHERE used = 0 OR used_at >= ?").
		ExpectQuery().
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(int64(1), "1111", int64(1), "1 hour", int64(3000), 1, "hours", now, now.Add(time.Hour), false, nil, int64(7), nil).
			AddRow(int64(2), "2222", int64(1), "1 hour", int64(3000), 1, "hours", now, now.Add(time.Hour), true, usedAt, nil, "ORD9"))

	vouchers, err := s.ActiveVouchers(context.Background(), now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, vouchers, 2)
	assert.False(t, vouchers[0].Used)
	require.NotNil(t, vouchers[0].ResellerId)
	assert.Equal(t, int64(7), *vouchers[0].ResellerId)
	assert.Nil(t, vouchers[0].OrderId)
	assert.True(t, vouchers[1].Used)
	require.NotNil(t, vouchers[1].UsedAt)
	assert.Equal(t, usedAt, *vouchers[1].UsedAt)
	assert.Equal(t, "ORD9", *vouchers[1].OrderId)
	assert.Equal(t, entity.UnitHours, vouchers[1].Duration.Unit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySql_MarkUsedCountsOnlyChanges(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	prep := mock.ExpectPrepare("UPDATE vouchers SET used = 1")
	prep.ExpectExec().WithArgs(now, int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(now, int64(2)).WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := s.MarkUsed(context.Background(), []int64{1, 2}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySql_GetVoucherNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectPrepare("SELECT (.+) FROM vouchers WHERE id = ?").
		ExpectQuery().
		WithArgs(int64(5)).
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetVoucher(context.Background(), 5)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestMySql_FailOrder(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectPrepare("UPDATE orders SET status").
		ExpectExec().
		WithArgs("failed", now, "tx-1", "ORD3", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.FailOrder(context.Background(), "ORD3", "tx-1", now))
	assert.NoError(t, mock.ExpectationsWereMet())
}
