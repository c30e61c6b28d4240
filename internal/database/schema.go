package database

// vouchers.active_code is NULL once a voucher is used, so the unique key
// only binds codes among unused vouchers
var schema = []string{
	`CREATE TABLE IF NOT EXISTS voucher_profiles (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(64) NOT NULL,
		duration_amount INT NOT NULL,
		duration_unit VARCHAR(8) NOT NULL,
		wholesale_price BIGINT NOT NULL DEFAULT 0,
		retail_price BIGINT NOT NULL DEFAULT 0,
		remote_profile VARCHAR(64) NOT NULL,
		code_length INT NOT NULL DEFAULT 6,
		active TINYINT(1) NOT NULL DEFAULT 1,
		UNIQUE KEY uq_profile_name (name)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS resellers (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(128) NOT NULL,
		balance BIGINT NOT NULL DEFAULT 0,
		telegram_id BIGINT NOT NULL DEFAULT 0,
		active TINYINT(1) NOT NULL DEFAULT 1
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS orders (
		order_id VARCHAR(64) NOT NULL PRIMARY KEY,
		profile_id BIGINT NOT NULL,
		customer_name VARCHAR(128) NOT NULL DEFAULT '',
		customer_email VARCHAR(128) NOT NULL DEFAULT '',
		customer_phone VARCHAR(32) NOT NULL DEFAULT '',
		customer_country CHAR(2) NOT NULL DEFAULT '',
		customer_telegram BIGINT NOT NULL DEFAULT 0,
		amount BIGINT NOT NULL,
		currency VARCHAR(8) NOT NULL DEFAULT '',
		method VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		payment_reference VARCHAR(128) NOT NULL DEFAULT '',
		checkout_url VARCHAR(1024) NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		processed_at DATETIME NULL,
		KEY idx_order_status (status),
		CONSTRAINT fk_order_profile FOREIGN KEY (profile_id) REFERENCES voucher_profiles (id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS vouchers (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		code VARCHAR(16) NOT NULL,
		profile_id BIGINT NOT NULL,
		profile_name VARCHAR(64) NOT NULL,
		price BIGINT NOT NULL DEFAULT 0,
		duration_amount INT NOT NULL,
		duration_unit VARCHAR(8) NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		used TINYINT(1) NOT NULL DEFAULT 0,
		used_at DATETIME NULL,
		reseller_id BIGINT NULL,
		order_id VARCHAR(64) NULL,
		active_code VARCHAR(16) AS (IF(used = 0, code, NULL)) STORED,
		UNIQUE KEY uq_active_code (active_code),
		UNIQUE KEY uq_voucher_order (order_id),
		KEY idx_voucher_code (code),
		KEY idx_voucher_used (used, used_at),
		CONSTRAINT fk_voucher_profile FOREIGN KEY (profile_id) REFERENCES voucher_profiles (id)
	) ENGINE=InnoDB`,
}
