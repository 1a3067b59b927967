// README: PostgreSQL store; implements every module store contract over pgxpool.
package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the shared transactional datastore. Single-entity operations are
// one guarded statement; multi-entity operations open an explicit transaction
// so that trip and driver records move together or not at all.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}
