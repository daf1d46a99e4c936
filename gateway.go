package fieldsync

import (
	"context"
	"encoding/json"
)

// Gateway is the remote CRUD API the sync engine drains the queue
// against. Implementations must tolerate at-least-once delivery: a
// crash between a successful call and local queue removal redelivers
// the same mutation on the next pass, so Insert must be safe to repeat
// for the same record id (upsert semantics on the remote side).
//
// Implementations classify failures by wrapping them with Permanent
// when retrying cannot help (payload rejected, resource gone). Plain
// errors are treated as transient and retried up to the configured
// ceiling.
type Gateway interface {
	Insert(ctx context.Context, resource string, payload json.RawMessage) error
	Update(ctx context.Context, resource, id string, payload json.RawMessage) error
	Delete(ctx context.Context, resource, id string) error
}
