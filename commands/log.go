package commands

import (
	"context"
	"math"
	"meshlink/config"
	"meshlink/datastore/leveldb"

	log "github.com/sirupsen/logrus"
)

// RunLog prints up to count stored messages starting at sequence start. The node must not be running.
func RunLog(ctx context.Context, cfg *config.Config, start uint64, count uint64) {
	if cfg.DataStore.MessageLogPath == "" {
		log.Fatal("Message log is disabled in the config")
	}

	msgLog, err := leveldb.NewMessageLog(cfg.DataStore.MessageLogPath)
	if err != nil {
		log.Fatalf("Failed to open message log: %v", err)
	}
	defer msgLog.Close()

	msgs, err := msgLog.EnumerateBySeq(logRange(start, count))
	if err != nil {
		log.Errorf("Failed to enumerate message log: %v", err)
		return
	}

	log.Infof("Message log: %d messages stored, showing %d", msgLog.GetSeq(), len(msgs))
	for _, msg := range msgs {
		log.Infof("Message: seq=%d, from=%s, at=%s, payload=%q",
			msg.Sequence, msg.From, msg.Received.Format("15:04:05.000"), msg.Payload)
	}
}

// logRange returns the half-open sequence range [start, end) covering count messages.
// The end saturates at math.MaxUint64.
func logRange(start uint64, count uint64) (uint64, uint64) {
	if count > math.MaxUint64-start {
		return start, math.MaxUint64
	}
	return start, start + count
}
