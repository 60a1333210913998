package audit

import "context"

// Storage persists recorded Events. SQLiteStorage is the only
// implementation; the interface exists so Recorder can be tested against a
// fake without touching disk.
type Storage interface {
	Store(ctx context.Context, event *Event) error
	Close() error
}
