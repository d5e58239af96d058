package sqlite

import "database/sql"

// schema stores every collection in one documents table. Each write stamps
// version with the next value of the store-wide version_seq, which
// transactions compare at commit to detect conflicts. The sequence never
// repeats, so a document deleted and created again gets a fresh version.
// The expression indexes back the equality queries issued by the ledger and
// the erasure engine.
const schema = `
CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    data TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (collection, id)
);

CREATE TABLE IF NOT EXISTS version_seq (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    value INTEGER NOT NULL
);
INSERT OR IGNORE INTO version_seq (id, value) SELECT 1, COALESCE(MAX(version), 0) FROM documents;

CREATE INDEX IF NOT EXISTS idx_documents_sender ON documents(collection, json_extract(data, '$.senderUid'));
CREATE INDEX IF NOT EXISTS idx_documents_receiver ON documents(collection, json_extract(data, '$.receiverUid'));
CREATE INDEX IF NOT EXISTS idx_documents_payer ON documents(collection, json_extract(data, '$.payerUid'));
CREATE INDEX IF NOT EXISTS idx_documents_from ON documents(collection, json_extract(data, '$.fromUid'));
CREATE INDEX IF NOT EXISTS idx_documents_to ON documents(collection, json_extract(data, '$.toUid'));
CREATE INDEX IF NOT EXISTS idx_documents_email ON documents(collection, json_extract(data, '$.email'));
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
