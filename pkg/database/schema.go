package database

import (
	"database/sql"
	"fmt"
)

// ValidateSchema verifies that the tables and indexes the relay depends on
// exist. Run after migrations to catch a half-initialized database early.
func ValidateSchema(db *sql.DB) error {
	requiredTables := []string{"users", "messages", "schema_migrations"}
	for _, table := range requiredTables {
		exists, err := tableExists(db, table)
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}

	requiredIndexes := []string{
		"idx_users_username",
		"idx_messages_user_time",
		"idx_messages_send_time",
	}
	for _, index := range requiredIndexes {
		exists, err := indexExists(db, index)
		if err != nil {
			return fmt.Errorf("failed to check index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}

	return nil
}

func tableExists(db *sql.DB, tableName string) (bool, error) {
	var count int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func indexExists(db *sql.DB, indexName string) (bool, error) {
	var count int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?",
		indexName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
