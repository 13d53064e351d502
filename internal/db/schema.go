package db

// SchemaVersion is the current database schema version
const SchemaVersion = 1

const schema = `
-- Synchronization configurations
CREATE TABLE IF NOT EXISTS synchronizations (
    id TEXT PRIMARY KEY,
    uuid TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    description TEXT DEFAULT '',
    source TEXT NOT NULL,
    target TEXT NOT NULL,
    mapping_ref TEXT DEFAULT '',
    interval TEXT DEFAULT '',
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_run_at DATETIME
);

-- Reconciliation ledger
CREATE TABLE IF NOT EXISTS contracts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT NOT NULL UNIQUE,
    synchronization_id TEXT NOT NULL,
    origin_id TEXT DEFAULT '',
    origin_hash TEXT DEFAULT '',
    target_id TEXT DEFAULT '',
    target_hash TEXT DEFAULT '',
    version INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (synchronization_id) REFERENCES synchronizations(id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_contracts_origin
    ON contracts(synchronization_id, origin_id) WHERE origin_id != '';
CREATE INDEX IF NOT EXISTS idx_contracts_target
    ON contracts(synchronization_id, target_id) WHERE target_id != '';

-- One row per reconciliation run
CREATE TABLE IF NOT EXISTS run_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT NOT NULL UNIQUE,
    synchronization_id TEXT NOT NULL,
    test INTEGER NOT NULL DEFAULT 0,
    force INTEGER NOT NULL DEFAULT 0,
    result TEXT,
    created DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    expires DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_logs_sync ON run_logs(synchronization_id, created);
CREATE INDEX IF NOT EXISTS idx_run_logs_expires ON run_logs(expires);

-- One row per per-object outcome within a run
CREATE TABLE IF NOT EXISTS contract_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT NOT NULL UNIQUE,
    contract_uuid TEXT DEFAULT '',
    run_id INTEGER NOT NULL,
    source TEXT,
    target TEXT,
    target_result TEXT NOT NULL,
    message TEXT DEFAULT '',
    created DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    expires DATETIME NOT NULL,
    FOREIGN KEY (run_id) REFERENCES run_logs(id)
);
CREATE INDEX IF NOT EXISTS idx_contract_logs_run ON contract_logs(run_id);
CREATE INDEX IF NOT EXISTS idx_contract_logs_expires ON contract_logs(expires);

-- Subscriber registrations
CREATE TABLE IF NOT EXISTS event_subscriptions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT NOT NULL UNIQUE,
    reference TEXT NOT NULL UNIQUE,
    style TEXT NOT NULL,
    sink TEXT DEFAULT '',
    secret TEXT DEFAULT '',
    filter TEXT DEFAULT '{}',
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Outbound change notifications
CREATE TABLE IF NOT EXISTS event_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT NOT NULL UNIQUE,
    subscription_id INTEGER NOT NULL,
    run_uuid TEXT DEFAULT '',
    contract_uuid TEXT DEFAULT '',
    action TEXT NOT NULL,
    payload TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_attempt DATETIME,
    next_attempt DATETIME,
    last_response TEXT DEFAULT '',
    created DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    expires DATETIME NOT NULL,
    FOREIGN KEY (subscription_id) REFERENCES event_subscriptions(id)
);
-- Partial index keeps retry selection off delivered/failed rows.
CREATE INDEX IF NOT EXISTS idx_messages_pending
    ON event_messages(next_attempt, retry_count) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_messages_sub ON event_messages(subscription_id, id);
CREATE INDEX IF NOT EXISTS idx_messages_expires ON event_messages(expires);

-- Named field mappings
CREATE TABLE IF NOT EXISTS mappings (
    name TEXT PRIMARY KEY,
    fields TEXT NOT NULL DEFAULT '{}',
    passthrough INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Pre/post rule hooks
CREATE TABLE IF NOT EXISTS rules (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    synchronization_id TEXT NOT NULL,
    name TEXT NOT NULL,
    timing TEXT NOT NULL,
    action TEXT NOT NULL,
    conditions TEXT,
    config TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (synchronization_id) REFERENCES synchronizations(id)
);
CREATE INDEX IF NOT EXISTS idx_rules_sync ON rules(synchronization_id);

-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
