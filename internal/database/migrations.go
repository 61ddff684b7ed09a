package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/riskdesk/backend/pkg/logger"
)

type migration struct {
	name string
	up   string
}

var migrations = []migration{
	{
		name: "create_wallets",
		up: `
CREATE TABLE IF NOT EXISTS wallets (
    id         BIGSERIAL PRIMARY KEY,
    owner_id   BIGINT NOT NULL UNIQUE,
    balance    NUMERIC(20,8) NOT NULL DEFAULT 0 CHECK (balance >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
	},
	{
		name: "create_ledger_entries",
		up: `
CREATE TABLE IF NOT EXISTS ledger_entries (
    id         BIGSERIAL PRIMARY KEY,
    owner_id   BIGINT NOT NULL,
    kind       TEXT NOT NULL CHECK (kind IN ('CREDIT', 'DEBIT')),
    amount     NUMERIC(20,8) NOT NULL CHECK (amount > 0),
    reference  TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_owner ON ledger_entries (owner_id, created_at DESC, id DESC);`,
	},
	{
		name: "create_models",
		up: `
CREATE TABLE IF NOT EXISTS models (
    id             BIGSERIAL PRIMARY KEY,
    name           TEXT NOT NULL UNIQUE,
    price_per_unit NUMERIC(20,8) NOT NULL CHECK (price_per_unit >= 0),
    active         BOOLEAN NOT NULL DEFAULT TRUE
);`,
	},
	{
		name: "create_documents",
		up: `
CREATE TABLE IF NOT EXISTS documents (
    id          BIGSERIAL PRIMARY KEY,
    owner_id    BIGINT NOT NULL,
    filename    TEXT NOT NULL,
    raw_text    TEXT NOT NULL,
    unit_count  INT NOT NULL CHECK (unit_count > 0),
    language    TEXT NOT NULL DEFAULT 'UNKNOWN',
    checksum    TEXT NOT NULL DEFAULT '',
    uploaded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents (owner_id, uploaded_at DESC);`,
	},
	{
		name: "create_jobs",
		up: `
CREATE TABLE IF NOT EXISTS jobs (
    id             BIGSERIAL PRIMARY KEY,
    document_id    BIGINT NOT NULL REFERENCES documents (id),
    model_id       BIGINT NOT NULL REFERENCES models (id),
    status         TEXT NOT NULL DEFAULT 'QUEUED',
    summary_depth  TEXT NOT NULL DEFAULT 'BULLET',
    charged_amount NUMERIC(20,8) NOT NULL DEFAULT 0,
    result_summary TEXT NOT NULL DEFAULT '',
    risk_score     DOUBLE PRECISION,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    started_at     TIMESTAMPTZ,
    finished_at    TIMESTAMPTZ,
    requeued_at    TIMESTAMPTZ
);
ALTER TABLE jobs ADD COLUMN IF NOT EXISTS requeued_at TIMESTAMPTZ;
CREATE INDEX IF NOT EXISTS idx_jobs_document ON jobs (document_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs (status, created_at);`,
	},
	{
		name: "create_risk_clauses",
		up: `
CREATE TABLE IF NOT EXISTS risk_clauses (
    id          BIGSERIAL PRIMARY KEY,
    job_id      BIGINT NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
    clause_text TEXT NOT NULL,
    risk_level  TEXT NOT NULL CHECK (risk_level IN ('LOW', 'MEDIUM', 'HIGH')),
    explanation TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_risk_clauses_job ON risk_clauses (job_id);`,
	},
}

// Migrate creates the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m.up); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		logger.Debugf("migration %s applied", m.name)
	}
	return nil
}
