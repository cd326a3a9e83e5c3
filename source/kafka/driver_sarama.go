package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"strata/internal/generation"
	"strata/internal/logging"
	"strata/internal/telemetry"
)

const groupPrefix = "strata-batch"

// SaramaDriver consumes the input topic through a sarama consumer group.
type SaramaDriver struct {
	cfg     Config
	groupID string
	keyDec  Decoder
	msgDec  Decoder

	cl      sarama.Client
	group   sarama.ConsumerGroup
	offsets *offsetState

	mu   sync.Mutex
	sess sarama.ConsumerGroupSession
}

func freshGroupID() string {
	return fmt.Sprintf("%s-%s", groupPrefix, uuid.NewString())
}

func (d *SaramaDriver) Configure(config Config) error {
	d.cfg = config
	d.offsets = newOffsetState()

	var err error
	if d.keyDec, err = NewDecoder(config.KeyDecoder); err != nil {
		return err
	}
	if d.msgDec, err = NewDecoder(config.MessageDecoder); err != nil {
		return err
	}

	version := config.Version
	if version == "" {
		version = "3.6.0"
	}
	ver, err := sarama.ParseKafkaVersion(version)
	if err != nil {
		return err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	if config.ClientID != "" {
		sc.ClientID = config.ClientID
	}
	sc.Consumer.Return.Errors = true
	// Skip the backlog: a separate bulk layer covers historical data, so a
	// fresh connection starts at the tail.
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest

	// Fresh group identity per connect; never resume a previous group.
	d.groupID = freshGroupID()

	if d.cl, err = sarama.NewClient(config.Brokers, sc); err != nil {
		return err
	}
	d.group, err = sarama.NewConsumerGroupFromClient(d.groupID, d.cl)
	return err
}

// Run consumes until ctx is cancelled. Restarting consumption requires a
// fresh Configure.
func (d *SaramaDriver) Run(ctx context.Context, emit EmitFunc) error {
	handler := &groupHandler{driver: d, emit: emit}
	logging.L().Info("sarama-driver: consuming", "topic", d.cfg.Topic, "group", d.groupID)

	for {
		if err := d.group.Consume(ctx, []string{d.cfg.Topic}, handler); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// CommitGeneration marks and commits offset+1 for every partition a
// completed generation covered. This is the only commit path.
func (d *SaramaDriver) CommitGeneration(_ context.Context, offsets map[int32]generation.OffsetRange) error {
	d.mu.Lock()
	sess := d.sess
	d.mu.Unlock()
	if sess == nil {
		return errors.New("sarama-driver: no live session to commit on")
	}

	marked := 0
	for p, r := range offsets {
		next := r.Last + 1
		if d.offsets.advance(p, next) {
			sess.MarkOffset(d.cfg.Topic, p, next, "")
			marked++
		}
	}
	if marked > 0 {
		sess.Commit()
	}
	return nil
}

func (d *SaramaDriver) Close() error {
	var errGroup, errClient error
	if d.group != nil {
		errGroup = d.group.Close()
	}
	if d.cl != nil {
		errClient = d.cl.Close()
	}
	if errGroup != nil {
		return errGroup
	}
	return errClient
}

// decode builds a Record from one raw message. A failure on either field
// drops the record: decode errors are per-record and non-fatal.
func (d *SaramaDriver) decode(key, value []byte, partition int32, offset int64) (generation.Record, error) {
	keyView, err := d.keyDec.Decode(key)
	if err != nil {
		return generation.Record{}, err
	}
	msgView, err := d.msgDec.Decode(value)
	if err != nil {
		return generation.Record{}, err
	}
	return generation.Record{
		Key:         key,
		Message:     value,
		KeyView:     keyView,
		MessageView: msgView,
		Partition:   partition,
		Offset:      offset,
	}, nil
}

type groupHandler struct {
	driver *SaramaDriver
	emit   EmitFunc
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.driver.mu.Lock()
	h.driver.sess = sess
	h.driver.mu.Unlock()
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.driver.mu.Lock()
	h.driver.sess = nil
	h.driver.mu.Unlock()
	return nil
}

func (h *groupHandler) ConsumeClaim(
	sess sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for {
		select {
		case <-sess.Context().Done():
			return sess.Context().Err()

		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			rec, err := h.driver.decode(msg.Key, msg.Value, msg.Partition, msg.Offset)
			if err != nil {
				telemetry.DecodeFailures.Inc()
				logging.L().Debug("sarama-driver: dropping undecodable record",
					"partition", msg.Partition, "offset", msg.Offset, "err", err)
				continue
			}
			if err := h.emit(rec); err != nil {
				return err
			}
			telemetry.RecordsConsumed.Inc()
		}
	}
}
