// Package database owns the SQLite file behind the command and snapshot
// history.
//
// Open enables WAL and a busy timeout. Migrate applies the embedded
// .up.sql files in timestamp order and records each in
// schema_migrations. MigrateDown reverts the newest one through its
// .down.sql file.
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
