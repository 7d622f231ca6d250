// Command replay publishes a JSON fixture of raw feed records to the seismic
// event topic, one message per record, in file order. It is used to drive a
// local dispatcher with a recorded feed.
//
// Usage:
//
//	go run ./cmd/replay \
//	  -file data/mock/quake_feed_240810.json \
//	  -brokers localhost:9092 \
//	  -topic seismic-events
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	_ "github.com/joho/godotenv/autoload"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	file := flag.String("file", "data/mock/quake_feed_240810.json", "JSON array of raw feed records")
	brokers := flag.String("brokers", sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092"), "comma-separated broker list")
	topic := flag.String("topic", sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "seismic-events"), "source topic")
	interval := flag.Duration("interval", 0, "pause between messages")
	flag.Parse()

	records, err := readRecords(*file)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(sharedcfg.ParseBrokers(*brokers)...),
		Topic:                  *topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	defer w.Close()

	stats := map[string]int{}
	for i, rec := range records {
		msg, label := toMessage(rec)
		if err := w.WriteMessages(ctx, msg); err != nil {
			return fmt.Errorf("write record %d: %w", i, err)
		}
		stats[label]++
		log.Printf("%3d %s", i, string(msg.Key))

		if *interval > 0 && i < len(records)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(*interval):
			}
		}
	}

	printStats(stats, len(records))
	return nil
}

func readRecords(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("fixture has no records")
	}
	return records, nil
}

// toMessage keys each record by the event ID the dispatcher will derive, so
// replays of one event land on one partition. Malformed records are sent
// unkeyed; the dispatcher skips them.
func toMessage(rec json.RawMessage) (kafkago.Message, string) {
	now := time.Now().UTC()
	event, err := domain.ParseRawEvent(domain.RawEvent{Value: rec, Timestamp: now})
	if err != nil {
		return kafkago.Message{Value: rec, Time: now}, "malformed"
	}
	return kafkago.Message{
		Key:   []byte(event.ID),
		Value: rec,
		Time:  now,
		Headers: []kafkago.Header{
			{Key: "collector", Value: []byte("replay")},
		},
	}, string(event.Source)
}

func printStats(stats map[string]int, total int) {
	labels := make([]string, 0, len(stats))
	for l := range stats {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	fmt.Printf("\npublished %d records\n", total)
	for _, l := range labels {
		fmt.Printf("  %-10s %d\n", l, stats[l])
	}
}
