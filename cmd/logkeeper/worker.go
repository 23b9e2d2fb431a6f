package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"addipath/pkg/models"
)

// messageReader is the part of *kafka.Reader the consumer needs.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// consume fans the messages read from r out to numWorkers index workers. It
// returns once ctx is cancelled and every worker has exited.
func consume(ctx context.Context, r messageReader, es *elasticsearch.Client, index string, numWorkers int) {
	jobs := make(chan kafka.Message, numWorkers*5)

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for id := 0; id < numWorkers; id++ {
		go func(id int) {
			defer wg.Done()
			logWorker(ctx, es, jobs, index, id)
		}(id)
	}

	for ctx.Err() == nil {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Errorf("[logkeeper] failed to read message from Kafka: %v", err)
			}
			continue
		}

		select {
		case jobs <- msg:
		case <-ctx.Done():
		}
	}

	close(jobs)
	wg.Wait()
}

// logWorker indexes the log entries it receives on jobs until the channel is
// closed or ctx is cancelled.
func logWorker(ctx context.Context, es *elasticsearch.Client, jobs <-chan kafka.Message, index string, workerID int) {
	for {
		select {
		case <-ctx.Done():
			log.Infof("[logkeeper][workerID:%d] context cancelled, exiting worker", workerID)
			return

		case msg, ok := <-jobs:
			if !ok {
				log.Infof("[logkeeper][workerID:%d] jobs channel closed, exiting worker", workerID)
				return
			}
			log.Debugf("[logkeeper][workerID:%d] received message: %s", workerID, string(msg.Value))

			entry, err := indexEntry(ctx, es, index, msg.Value)
			if err != nil {
				log.Errorf("[logkeeper][workerID:%d] %v", workerID, err)
				continue
			}
			log.Infof("[logkeeper][workerID:%d][%s] log entry indexed", workerID, shorten(entry.RequestID))
		}
	}
}

// indexEntry decodes a request log entry and stores it in the index under its
// document ID, so a redelivered message overwrites instead of duplicating.
func indexEntry(ctx context.Context, es *elasticsearch.Client, index string, value []byte) (models.LogEntry, error) {
	var entry models.LogEntry
	if err := json.Unmarshal(value, &entry); err != nil {
		return models.LogEntry{}, fmt.Errorf("failed to unmarshal log entry: %w", err)
	}
	if entry.RequestID == "" {
		return models.LogEntry{}, fmt.Errorf("log entry without request id from service %q", entry.Service)
	}

	res, err := es.Index(
		index,
		bytes.NewReader(value),
		es.Index.WithDocumentID(documentID(entry)),
		es.Index.WithContext(ctx),
	)
	if err != nil {
		return models.LogEntry{}, fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return models.LogEntry{}, fmt.Errorf("failed to index document: %s: %s", res.Status(), b)
	}

	return entry, nil
}

func documentID(entry models.LogEntry) string {
	return entry.Service + entry.RequestID
}

func shorten(s string) string {
	if len(s) > 6 {
		return s[:6] + "..."
	}
	return s
}
