package core

import (
	"fmt"
	"os"

	"agritrace/internal/infra/persistence/memory"
	"agritrace/internal/infra/persistence/postgres"
	"agritrace/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// NewDefaultRulesEngine returns an engine with the standard provenance rules
// registered: status transitions, lot composition, and chain linkage.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(StatusTransitionRule())
	engine.Register(LotCompositionRule())
	engine.Register(ChainLinkRule())
	return engine
}

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	AGRITRACE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	AGRITRACE_SQLITE_PATH: path to sqlite file (default ./agritrace.db)
//	AGRITRACE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(engine *RulesEngine) (PersistentStore, error) {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	driver := os.Getenv("AGRITRACE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		path := os.Getenv("AGRITRACE_SQLITE_PATH")
		return sqlite.NewStore(path, engine)
	case StoragePostgres:
		dsn := os.Getenv("AGRITRACE_POSTGRES_DSN")
		return postgres.NewStore(dsn, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
