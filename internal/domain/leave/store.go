package leave

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"leaveflow/internal/platform/events"
)

const defaultStoreTimeout = 5 * time.Second

// Store is the Postgres-backed RequestStore.
type Store struct {
	DB      *pgxpool.Pool
	Broker  events.Broker
	Timeout time.Duration
}

func NewStore(db *pgxpool.Pool, broker events.Broker) *Store {
	if broker == nil {
		broker = events.NewMemoryBroker()
	}
	return &Store{DB: db, Broker: broker, Timeout: defaultStoreTimeout}
}

// unavailable classifies an infrastructure failure. The cause keeps its
// stack via pkg/errors so logs show where the store call failed.
func unavailable(err error, op string) *Error {
	return &Error{
		Kind:    KindStoreUnavailable,
		Message: "leave store unavailable",
		Err:     errors.Wrap(err, op),
	}
}
