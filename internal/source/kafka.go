package source

import (
	"context"

	"github.com/richardliu001/gaming-ingest/internal/config"
	"github.com/richardliu001/gaming-ingest/internal/model"
	"github.com/segmentio/kafka-go"
)

// KafkaSource consumes a topic as part of a consumer group. Offsets are
// committed through Commit only, so a crash before a flush replays the
// uncommitted messages.
type KafkaSource struct {
	reader  *kafka.Reader
	pending []kafka.Message
	tag     string
}

func NewKafkaSource(cfg config.KafkaConfig) *KafkaSource {
	return &KafkaSource{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		tag: "kafka",
	}
}

func (s *KafkaSource) Next(ctx context.Context) (model.RawRecord, error) {
	m, err := s.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return model.RawRecord{}, ctx.Err()
		}
		return model.RawRecord{}, err
	}
	s.pending = append(s.pending, m)

	raw, err := DecodeJSON(m.Value)
	if err != nil {
		return model.RawRecord{}, &ParseError{Line: m.Offset, Raw: string(m.Value), Err: err}
	}
	raw = withDefaultSource(raw, s.tag)
	raw.Line = m.Offset
	return raw, nil
}

// Commit acknowledges every message fetched so far.
func (s *KafkaSource) Commit(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	if err := s.reader.CommitMessages(ctx, s.pending...); err != nil {
		return err
	}
	s.pending = s.pending[:0]
	return nil
}

// Pending is the number of fetched, uncommitted messages.
func (s *KafkaSource) Pending() int { return len(s.pending) }

func (s *KafkaSource) Close() error { return s.reader.Close() }
