package kafka

import (
	"context"

	"strata/internal/generation"
)

// EmitFunc hands one decoded record to the scheduler. Blocking here is the
// backpressure path: the consumer stalls while the control thread is busy.
type EmitFunc func(generation.Record) error

// Config shapes one consumer connection. Group identity is generated fresh
// per Configure, so a new connection never resumes an old group's offsets;
// combined with a tail-start initial offset this is the skip-backlog resume
// policy.
type Config struct {
	Brokers []string
	Topic   string

	ClientID string
	Version  string

	KeyDecoder     string
	MessageDecoder string
}

// Adapter is the partitioned-log consumer. Offset state is committed only
// through CommitGeneration, tying consumer progress to the generation
// write-then-invoke protocol rather than raw consumption.
type Adapter interface {
	Configure(Config) error
	Run(ctx context.Context, emit EmitFunc) error
	CommitGeneration(ctx context.Context, offsets map[int32]generation.OffsetRange) error
	Close() error
}
