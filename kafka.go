package trustcoin

import (
	"context"
	"encoding/json"
	"time"

	"github.com/everFinance/trustcoin/schema"
	"github.com/segmentio/kafka-go"
)

const (
	ClaimTopic     = "trustcoin_claim"
	WhitelistTopic = "trustcoin_whitelist"

	publishTimeout = 5 * time.Second
)

// Publisher receives committed claims and confirmed whitelist mutations.
type Publisher interface {
	PublishClaim(ev schema.ClaimEvent)
	PublishWhitelist(ev schema.WhitelistEvent)
}

type KWriter struct {
	w *kafka.Writer
}

func NewKWriter(topic string, uri string) (*KWriter, error) {
	w := &kafka.Writer{
		Addr:         kafka.TCP(uri),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}

	return &KWriter{
		w: w,
	}, nil
}

func (kw *KWriter) Write(ctx context.Context, key string, body []byte) error {
	err := kw.w.WriteMessages(
		ctx,
		kafka.Message{
			Key:   []byte(key),
			Value: body,
		},
	)
	return err
}

func (kw *KWriter) Close() {
	kw.w.Close()
}

func NewKWriters(uri string) (map[string]*KWriter, error) {
	claimWriter, err := NewKWriter(ClaimTopic, uri)
	if err != nil {
		return nil, err
	}
	whitelistWriter, err := NewKWriter(WhitelistTopic, uri)
	if err != nil {
		return nil, err
	}
	return map[string]*KWriter{
		ClaimTopic:     claimWriter,
		WhitelistTopic: whitelistWriter,
	}, nil
}

// KafkaPublisher keys every message by address so one address's events stay ordered.
type KafkaPublisher struct {
	writers map[string]*KWriter
}

func NewKafkaPublisher(uri string) (*KafkaPublisher, error) {
	ws, err := NewKWriters(uri)
	if err != nil {
		return nil, err
	}
	return &KafkaPublisher{writers: ws}, nil
}

func (p *KafkaPublisher) PublishClaim(ev schema.ClaimEvent) {
	p.publish(ClaimTopic, ev.Address, ev)
}

func (p *KafkaPublisher) PublishWhitelist(ev schema.WhitelistEvent) {
	p.publish(WhitelistTopic, ev.Address, ev)
}

func (p *KafkaPublisher) publish(topic, key string, ev interface{}) {
	by, err := json.Marshal(ev)
	if err != nil {
		log.Error("json.Marshal(ev)", "err", err, "topic", topic)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.writers[topic].Write(ctx, key, by); err != nil {
		log.Error("kafka write failed", "err", err, "topic", topic, "address", key)
	}
}

func (p *KafkaPublisher) Close() {
	for _, w := range p.writers {
		w.Close()
	}
}

type nopPublisher struct{}

func (nopPublisher) PublishClaim(schema.ClaimEvent)         {}
func (nopPublisher) PublishWhitelist(schema.WhitelistEvent) {}
