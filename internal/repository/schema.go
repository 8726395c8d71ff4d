package repository

// Schema statements per driver. Each entry is a single statement so drivers
// without multi-statement support can execute them one by one.

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS keystroke_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    signature TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_samples_account ON keystroke_samples(tenant_id, account_id, id)`,
	`CREATE TABLE IF NOT EXISTS verifications (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    outcome TEXT NOT NULL,
    decision TEXT,
    confidence REAL NOT NULL,
    threshold REAL NOT NULL,
    observed_distance REAL NOT NULL,
    history_size INTEGER NOT NULL,
    trace_id TEXT,
    timestamp TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_verifications_account ON verifications(tenant_id, account_id, timestamp)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS keystroke_samples (
    id BIGSERIAL PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    signature TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_samples_account ON keystroke_samples(tenant_id, account_id, id DESC)`,
	`CREATE TABLE IF NOT EXISTS verifications (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    outcome TEXT NOT NULL,
    decision TEXT,
    confidence DOUBLE PRECISION NOT NULL,
    threshold DOUBLE PRECISION NOT NULL,
    observed_distance DOUBLE PRECISION NOT NULL,
    history_size INTEGER NOT NULL,
    trace_id TEXT,
    timestamp TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_verifications_account ON verifications(tenant_id, account_id, timestamp)`,
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so indexes are declared inline.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS keystroke_samples (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    tenant_id VARCHAR(191) NOT NULL,
    account_id VARCHAR(191) NOT NULL,
    signature TEXT NOT NULL,
    created_at DATETIME(6) NOT NULL,
    INDEX idx_samples_account (tenant_id, account_id, id)
)`,
	`CREATE TABLE IF NOT EXISTS verifications (
    id VARCHAR(64) PRIMARY KEY,
    tenant_id VARCHAR(191) NOT NULL,
    account_id VARCHAR(191) NOT NULL,
    outcome VARCHAR(32) NOT NULL,
    decision VARCHAR(32),
    confidence DOUBLE NOT NULL,
    threshold DOUBLE NOT NULL,
    observed_distance DOUBLE NOT NULL,
    history_size INT NOT NULL,
    trace_id VARCHAR(64),
    timestamp DATETIME(6) NOT NULL,
    INDEX idx_verifications_account (tenant_id, account_id, timestamp)
)`,
}

// Schemas returns the schema statements for a driver, in order.
func Schemas(driver string) []string {
	switch driver {
	case "postgres":
		return postgresSchema
	case "mysql":
		return mysqlSchema
	default:
		return sqliteSchema
	}
}
