package database

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *MySql) prepareStmt(ctx context.Context, name, query string) (*sql.Stmt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stmt, ok := s.statements[name]; ok {
		return stmt, nil
	}

	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("prepare statement [%s]: %w", name, err)
	}

	s.statements[name] = stmt
	return stmt, nil
}

func (s *MySql) closeStmt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, stmt := range s.statements {
		_ = stmt.Close()
		delete(s.statements, name)
	}
}

const voucherColumns = `id, code, profile_id, profile_name, price, duration_amount, duration_unit,
	created_at, expires_at, used, used_at, reseller_id, order_id`

const profileColumns = `id, name, duration_amount, duration_unit, wholesale_price, retail_price,
	remote_profile, code_length, active`

const orderColumns = `order_id, profile_id, customer_name, customer_email, customer_phone,
	customer_country, customer_telegram, amount, currency, method, status, payment_reference,
	checkout_url, created_at, processed_at`

// statements run inside the issuance transaction
const (
	queryCompleteOrder = `UPDATE orders SET status = ?, processed_at = ?, payment_reference = ?
		WHERE order_id = ? AND status = ?`
	queryOrderStatus   = `SELECT status FROM orders WHERE order_id = ?`
	queryDebitReseller = `UPDATE resellers SET balance = balance - ?
		WHERE id = ? AND active = 1 AND balance >= ?`
	queryResellerState = `SELECT balance, active FROM resellers WHERE id = ?`
	queryInsertVoucher = `INSERT INTO vouchers (code, profile_id, profile_name, price, duration_amount,
		duration_unit, created_at, expires_at, used, reseller_id, order_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`
)

func (s *MySql) stmtSelectVoucher(ctx context.Context) (*sql.Stmt, error) {
	query := fmt.Sprintf(`SELECT %s FROM vouchers WHERE id = ?`, voucherColumns)
	return s.prepareStmt(ctx, "selectVoucher", query)
}

func (s *MySql) stmtSelectVoucherByCode(ctx context.Context) (*sql.Stmt, error) {
	query := fmt.Sprintf(`SELECT %s FROM vouchers WHERE code = ? ORDER BY used ASC, id DESC LIMIT 1`, voucherColumns)
	return s.prepareStmt(ctx, "selectVoucherByCode", query)
}

func (s *MySql) stmtSelectVoucherByOrder(ctx context.Context) (*sql.Stmt, error) {
	query := fmt.Sprintf(`SELECT %s FROM vouchers WHERE order_id = ?`, voucherColumns)
	return s.prepareStmt(ctx, "selectVoucherByOrder", query)
}

func (s *MySql) stmtSelectActiveVouchers(ctx context.Context) (*sql.Stmt, error) {
	query := fmt.Sprintf(`SELECT %s FROM vouchers WHERE used = 0 OR used_at >= ? ORDER BY id`, voucherColumns)
	return s.prepareStmt(ctx, "selectActiveVouchers", query)
}

func (s *MySql) stmtMarkUsed(ctx context.Context) (*sql.Stmt, error) {
	return s.prepareStmt(ctx, "markUsed", `UPDATE vouchers SET used = 1, used_at = ? WHERE id = ? AND used = 0`)
}

func (s *MySql) stmtDeleteVoucher(ctx context.Context) (*sql.Stmt, error) {
	return s.prepareStmt(ctx, "deleteVoucher", `DELETE FROM vouchers WHERE id = ?`)
}

func (s *MySql) stmtInsertProfile(ctx context.Context) (*sql.Stmt, error) {
	query := `INSERT INTO voucher_profiles (name, duration_amount, duration_unit, wholesale_price,
		retail_price, remote_profile, code_length, active) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	return s.prepareStmt(ctx, "insertProfile", query)
}

func (s *MySql) stmtUpdateProfile(ctx context.Context) (*sql.Stmt, error) {
	query := `UPDATE voucher_profiles SET name = ?, duration_amount = ?, duration_unit = ?,
		wholesale_price = ?, retail_price = ?, remote_profile = ?, code_length = ? WHERE id = ?`
	return s.prepareStmt(ctx, "updateProfile", query)
}

func (s *MySql) stmtSetProfileActive(ctx context.Context) (*sql.Stmt, error) {
	return s.prepareStmt(ctx, "setProfileActive", `UPDATE voucher_profiles SET active = ? WHERE id = ?`)
}

func (s *MySql) stmtSelectProfile(ctx context.Context) (*sql.Stmt, error) {
	query := fmt.Sprintf(`SELECT %s FROM voucher_profiles WHERE id = ?`, profileColumns)
	return s.prepareStmt(ctx, "selectProfile", query)
}

func (s *MySql) stmtSelectProfiles(ctx context.Context) (*sql.Stmt, error) {
	query := fmt.Sprintf(`SELECT %s FROM voucher_profiles WHERE active = 1 OR ? = 0 ORDER BY id`, profileColumns)
	return s.prepareStmt(ctx, "selectProfiles", query)
}

func (s *MySql) stmtInsertReseller(ctx context.Context) (*sql.Stmt, error) {
	return s.prepareStmt(ctx, "insertReseller", `INSERT INTO resellers (name, balance, telegram_id, active) VALUES (?, 0, ?, 1)`)
}

func (s *MySql) stmtSelectReseller(ctx context.Context) (*sql.Stmt, error) {
	return s.prepareStmt(ctx, "selectReseller", `SELECT id, name, balance, telegram_id, active FROM resellers WHERE id = ?`)
}

func (s *MySql) stmtCreditReseller(ctx context.Context) (*sql.Stmt, error) {
	return s.prepareStmt(ctx, "creditReseller", `UPDATE resellers SET balance = balance + ? WHERE id = ?`)
}

func (s *MySql) stmtInsertOrder(ctx context.Context) (*sql.Stmt, error) {
	query := `INSERT INTO orders (order_id, profile_id, customer_name, customer_email, customer_phone,
		customer_country, customer_telegram, amount, currency, method, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return s.prepareStmt(ctx, "insertOrder", query)
}

func (s *MySql) stmtSelectOrder(ctx context.Context) (*sql.Stmt, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE order_id = ?`, orderColumns)
	return s.prepareStmt(ctx, "selectOrder", query)
}

func (s *MySql) stmtSetCheckout(ctx context.Context) (*sql.Stmt, error) {
	return s.prepareStmt(ctx, "setCheckout", `UPDATE orders SET checkout_url = ?, payment_reference = ? WHERE order_id = ?`)
}

func (s *MySql) stmtFailOrder(ctx context.Context) (*sql.Stmt, error) {
	query := `UPDATE orders SET status = ?, processed_at = ?, payment_reference = ?
		WHERE order_id = ? AND status = ?`
	return s.prepareStmt(ctx, "failOrder", query)
}
