package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"hsync/entity"
	"hsync/internal/config"
	"hsync/lib/sl"
)

const errDuplicateKey = 1062

// MySql is the credential ledger
type MySql struct {
	db         *sql.DB
	statements map[string]*sql.Stmt
	mu         sync.Mutex
	log        *slog.Logger
}

func NewSQLClient(conf *config.Config, log *slog.Logger) (*MySql, error) {
	c := conf.Ledger
	connectionURI := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC",
		c.UserName, c.Password, c.HostName, c.Port, c.Database)
	db, err := sql.Open("mysql", connectionURI)
	if err != nil {
		return nil, fmt.Errorf("sql connect: %w", err)
	}

	// try to ping three times with a 30-second interval; wait for a database to start
	for i := 0; i < 3; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		if i == 2 {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		time.Sleep(30 * time.Second)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	sdb := NewWithDB(db, log)
	for _, query := range schema {
		if _, err = db.Exec(query); err != nil {
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	sdb.log.With(
		slog.String("host", c.HostName),
		slog.String("database", c.Database),
	).Info("ledger connected")
	return sdb, nil
}

// NewWithDB wraps an open connection pool without touching the schema
func NewWithDB(db *sql.DB, log *slog.Logger) *MySql {
	return &MySql{
		db:         db,
		statements: make(map[string]*sql.Stmt),
		log:        log.With(sl.Module("ledger.mysql")),
	}
}

func (s *MySql) Close() {
	s.closeStmt()
	_ = s.db.Close()
}

func isDuplicate(err error) (string, bool) {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == errDuplicateKey {
		return me.Message, true
	}
	return "", false
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVoucher(row scanner) (*entity.Voucher, error) {
	var v entity.Voucher
	var unit string
	var usedAt sql.NullTime
	var resellerId sql.NullInt64
	var orderId sql.NullString
	err := row.Scan(
		&v.Id,
		&v.Code,
		&v.ProfileId,
		&v.ProfileName,
		&v.Price,
		&v.Duration.Amount,
		&unit,
		&v.CreatedAt,
		&v.ExpiresAt,
		&v.Used,
		&usedAt,
		&resellerId,
		&orderId,
	)
	if err != nil {
		return nil, err
	}
	v.Duration.Unit = entity.DurationUnit(unit)
	if usedAt.Valid {
		t := usedAt.Time
		v.UsedAt = &t
	}
	if resellerId.Valid {
		id := resellerId.Int64
		v.ResellerId = &id
	}
	if orderId.Valid {
		id := orderId.String
		v.OrderId = &id
	}
	return &v, nil
}

func scanProfile(row scanner) (*entity.Profile, error) {
	var p entity.Profile
	var unit string
	err := row.Scan(
		&p.Id,
		&p.Name,
		&p.Duration.Amount,
		&unit,
		&p.WholesalePrice,
		&p.RetailPrice,
		&p.RemoteProfile,
		&p.CodeLength,
		&p.Active,
	)
	if err != nil {
		return nil, err
	}
	p.Duration.Unit = entity.DurationUnit(unit)
	return &p, nil
}

func scanOrder(row scanner) (*entity.Order, error) {
	var o entity.Order
	var processedAt sql.NullTime
	err := row.Scan(
		&o.OrderId,
		&o.ProfileId,
		&o.Customer.Name,
		&o.Customer.Email,
		&o.Customer.Phone,
		&o.Customer.Country,
		&o.Customer.TelegramId,
		&o.Amount,
		&o.Currency,
		&o.Method,
		&o.Status,
		&o.PaymentReference,
		&o.CheckoutUrl,
		&o.CreatedAt,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}
	if processedAt.Valid {
		t := processedAt.Time
		o.ProcessedAt = &t
	}
	return &o, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return entity.ErrNotFound
	}
	return err
}

// InsertVoucher persists an unused voucher together with its funding in one
// transaction: the order moves pending -> completed, or the reseller is
// debited. Nothing is written when any step fails.
func (s *MySql) InsertVoucher(ctx context.Context, v *entity.Voucher, funding entity.Funding) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if funding.OrderId != nil {
		if err = completeOrder(ctx, tx, *funding.OrderId, funding.PaymentReference, v.CreatedAt); err != nil {
			return 0, err
		}
	}
	if funding.ResellerId != nil {
		if err = debitReseller(ctx, tx, *funding.ResellerId, funding.Amount); err != nil {
			return 0, err
		}
	}

	var resellerId sql.NullInt64
	if v.ResellerId != nil {
		resellerId = sql.NullInt64{Int64: *v.ResellerId, Valid: true}
	}
	var orderId sql.NullString
	if v.OrderId != nil {
		orderId = sql.NullString{String: *v.OrderId, Valid: true}
	}

	var res sql.Result
	res, err = tx.ExecContext(ctx, queryInsertVoucher,
		v.Code,
		v.ProfileId,
		v.ProfileName,
		v.Price,
		v.Duration.Amount,
		string(v.Duration.Unit),
		v.CreatedAt,
		v.ExpiresAt,
		resellerId,
		orderId,
	)
	if err != nil {
		if msg, dup := isDuplicate(err); dup {
			if strings.Contains(msg, "uq_voucher_order") {
				err = entity.ErrDuplicateOrder
			} else {
				err = entity.ErrDuplicateCode
			}
		}
		return 0, err
	}

	var id int64
	id, err = res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	v.Id = id
	return id, nil
}

func completeOrder(ctx context.Context, tx *sql.Tx, orderId, reference string, at time.Time) error {
	res, err := tx.ExecContext(ctx, queryCompleteOrder,
		entity.OrderCompleted, at, reference, orderId, entity.OrderPending)
	if err != nil {
		return fmt.Errorf("complete order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var status string
	err = tx.QueryRowContext(ctx, queryOrderStatus, orderId).Scan(&status)
	if err != nil {
		return notFound(err)
	}
	if entity.OrderStatus(status) == entity.OrderCompleted {
		return entity.ErrDuplicateOrder
	}
	return entity.ErrOrderNotPending
}

func debitReseller(ctx context.Context, tx *sql.Tx, resellerId, amount int64) error {
	res, err := tx.ExecContext(ctx, queryDebitReseller, amount, resellerId, amount)
	if err != nil {
		return fmt.Errorf("debit reseller: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var balance int64
	var active bool
	err = tx.QueryRowContext(ctx, queryResellerState, resellerId).Scan(&balance, &active)
	if err != nil {
		return notFound(err)
	}
	if !active {
		return entity.ErrResellerInactive
	}
	return entity.ErrInsufficientBalance
}

func (s *MySql) GetVoucher(ctx context.Context, id int64) (*entity.Voucher, error) {
	stmt, err := s.stmtSelectVoucher(ctx)
	if err != nil {
		return nil, err
	}
	v, err := scanVoucher(stmt.QueryRowContext(ctx, id))
	return v, notFound(err)
}

// GetVoucherByCode prefers the unused voucher holding the code
func (s *MySql) GetVoucherByCode(ctx context.Context, code string) (*entity.Voucher, error) {
	stmt, err := s.stmtSelectVoucherByCode(ctx)
	if err != nil {
		return nil, err
	}
	v, err := scanVoucher(stmt.QueryRowContext(ctx, code))
	return v, notFound(err)
}

func (s *MySql) GetVoucherByOrder(ctx context.Context, orderId string) (*entity.Voucher, error) {
	stmt, err := s.stmtSelectVoucherByOrder(ctx)
	if err != nil {
		return nil, err
	}
	v, err := scanVoucher(stmt.QueryRowContext(ctx, orderId))
	return v, notFound(err)
}

// ActiveVouchers returns unused vouchers and those used at or after usedSince
func (s *MySql) ActiveVouchers(ctx context.Context, usedSince time.Time) ([]*entity.Voucher, error) {
	stmt, err := s.stmtSelectActiveVouchers(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, usedSince)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vouchers []*entity.Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		vouchers = append(vouchers, v)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return vouchers, nil
}

// MarkUsed flips unused vouchers to used and returns how many changed
func (s *MySql) MarkUsed(ctx context.Context, ids []int64, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	stmt, err := s.stmtMarkUsed(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, at, id)
		if err != nil {
			return changed, fmt.Errorf("mark used %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			changed++
		}
	}
	return changed, nil
}

func (s *MySql) DeleteVoucher(ctx context.Context, id int64) error {
	stmt, err := s.stmtDeleteVoucher(ctx)
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entity.ErrNotFound
	}
	return nil
}

func (s *MySql) CreateProfile(ctx context.Context, p *entity.Profile) (int64, error) {
	stmt, err := s.stmtInsertProfile(ctx)
	if err != nil {
		return 0, err
	}
	res, err := stmt.ExecContext(ctx,
		p.Name,
		p.Duration.Amount,
		string(p.Duration.Unit),
		p.WholesalePrice,
		p.RetailPrice,
		p.RemoteProfile,
		p.CodeLength,
		p.Active,
	)
	if err != nil {
		if _, dup := isDuplicate(err); dup {
			return 0, fmt.Errorf("profile %q exists: %w", p.Name, err)
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	p.Id = id
	return id, nil
}

func (s *MySql) UpdateProfile(ctx context.Context, p *entity.Profile) error {
	stmt, err := s.stmtUpdateProfile(ctx)
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx,
		p.Name,
		p.Duration.Amount,
		string(p.Duration.Unit),
		p.WholesalePrice,
		p.RetailPrice,
		p.RemoteProfile,
		p.CodeLength,
		p.Id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// MySQL counts only changed rows; tell apart a no-op from a missing id
		if _, err = s.GetProfile(ctx, p.Id); err != nil {
			return err
		}
	}
	return nil
}

func (s *MySql) SetProfileActive(ctx context.Context, id int64, active bool) error {
	stmt, err := s.stmtSetProfileActive(ctx)
	if err != nil {
		return err
	}
	if _, err = stmt.ExecContext(ctx, active, id); err != nil {
		return err
	}
	_, err = s.GetProfile(ctx, id)
	return err
}

func (s *MySql) GetProfile(ctx context.Context, id int64) (*entity.Profile, error) {
	stmt, err := s.stmtSelectProfile(ctx)
	if err != nil {
		return nil, err
	}
	p, err := scanProfile(stmt.QueryRowContext(ctx, id))
	return p, notFound(err)
}

func (s *MySql) ListProfiles(ctx context.Context, activeOnly bool) ([]*entity.Profile, error) {
	stmt, err := s.stmtSelectProfiles(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*entity.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (s *MySql) CreateReseller(ctx context.Context, r *entity.Reseller) (int64, error) {
	stmt, err := s.stmtInsertReseller(ctx)
	if err != nil {
		return 0, err
	}
	res, err := stmt.ExecContext(ctx, r.Name, r.TelegramId)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	r.Id = id
	r.Active = true
	return id, nil
}

func (s *MySql) GetReseller(ctx context.Context, id int64) (*entity.Reseller, error) {
	stmt, err := s.stmtSelectReseller(ctx)
	if err != nil {
		return nil, err
	}
	var r entity.Reseller
	err = stmt.QueryRowContext(ctx, id).Scan(&r.Id, &r.Name, &r.Balance, &r.TelegramId, &r.Active)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// CreditReseller adds amount to the balance and returns the updated account
func (s *MySql) CreditReseller(ctx context.Context, id, amount int64) (*entity.Reseller, error) {
	stmt, err := s.stmtCreditReseller(ctx)
	if err != nil {
		return nil, err
	}
	res, err := stmt.ExecContext(ctx, amount, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, entity.ErrNotFound
	}
	return s.GetReseller(ctx, id)
}

func (s *MySql) CreateOrder(ctx context.Context, o *entity.Order) error {
	stmt, err := s.stmtInsertOrder(ctx)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx,
		o.OrderId,
		o.ProfileId,
		o.Customer.Name,
		o.Customer.Email,
		o.Customer.Phone,
		o.Customer.CountryCode(),
		o.Customer.TelegramId,
		o.Amount,
		o.Currency,
		string(o.Method),
		string(o.Status),
		o.CreatedAt,
	)
	return err
}

func (s *MySql) GetOrder(ctx context.Context, orderId string) (*entity.Order, error) {
	stmt, err := s.stmtSelectOrder(ctx)
	if err != nil {
		return nil, err
	}
	o, err := scanOrder(stmt.QueryRowContext(ctx, orderId))
	return o, notFound(err)
}

func (s *MySql) SetCheckout(ctx context.Context, orderId, url, reference string) error {
	stmt, err := s.stmtSetCheckout(ctx)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, url, reference, orderId)
	return err
}

// FailOrder moves a pending order to failed
func (s *MySql) FailOrder(ctx context.Context, orderId, reference string, at time.Time) error {
	stmt, err := s.stmtFailOrder(ctx)
	if err != nil {
		return err
	}
	res, err := stmt.ExecContext(ctx, entity.OrderFailed, at, reference, orderId, entity.OrderPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	order, err := s.GetOrder(ctx, orderId)
	if err != nil {
		return err
	}
	if order.Status == entity.OrderFailed {
		return nil
	}
	return entity.ErrOrderNotPending
}
