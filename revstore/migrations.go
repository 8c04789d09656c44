package revstore

import (
	"database/sql"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// DDL for the SQL-backed nodes. The statements are plain enough to run
// unchanged on DuckDB and SQLite.
//
// There is no primary key: DuckDB rejects deleting and re-inserting the same
// key within one transaction, which is exactly what a node flush does. Keys
// stay unique because a flush always rewrites the whole node.

const DDLCreateTrackingPropertiesTable = `
CREATE TABLE IF NOT EXISTS tracking_properties (
    node_name  VARCHAR NOT NULL,
    prop_key   VARCHAR NOT NULL,
    prop_value VARCHAR NOT NULL
);
`

const DDLCreateTrackingPropertiesIndexNode = `
CREATE INDEX IF NOT EXISTS idx_tracking_properties_node ON tracking_properties(node_name);
`

// migrateDB creates the tracking tables on a single database.
func migrateDB(db *sql.DB) error {
	if _, err := db.Exec(DDLCreateTrackingPropertiesTable); err != nil {
		return serr.Wrap(err, "failed to create tracking_properties table")
	}

	if _, err := db.Exec(DDLCreateTrackingPropertiesIndexNode); err != nil {
		// Lookups still work without the index, only slower
		logger.LogErr(err, "failed to create index", "sql", DDLCreateTrackingPropertiesIndexNode)
	}

	logger.Debug("Tracking database migration completed")
	return nil
}
