package leveldb

import (
	"fmt"
	"meshlink/datamodel/message"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"
)

const (
	keyPrefixMsg = "MSG" // Messages indexed by local sequence number. Followed by a 16-digit hexadecimal sequence number
)

var _ message.Sink = (*MessageLog)(nil)

// Keep sub-second receive times, the default CBOR time encoding is integer seconds
var encMode = mustEncMode(cbor.EncOptions{Time: cbor.TimeRFC3339Nano})

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

// MessageLog persists received messages in arrival order.
type MessageLog struct {
	LevelDB
	seq uint64
}

func NewMessageLog(path string) (*MessageLog, error) {
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	// Resume the sequence from the last stored message
	iter := ldb.NewIterator(util.BytesPrefix([]byte(keyPrefixMsg)), nil)
	defer iter.Release()

	var maxSeq uint64 = 0
	if iter.Last() {
		seq, err := seqFromKey(keyPrefixMsg, iter.Key())
		if err != nil {
			ldb.Close()
			return nil, err
		}
		maxSeq = seq
	}

	return &MessageLog{
		LevelDB: LevelDB{
			path: path,
			db:   ldb,
		},
		seq: maxSeq,
	}, nil
}

// Append stores a copy of msg under the next sequence number and returns the stored copy.
func (l *MessageLog) Append(msg *message.Message) (*message.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	newSeq := l.seq + 1
	stored := &message.Message{
		Sequence: newSeq,
		From:     msg.From,
		Payload:  msg.Payload,
		Received: msg.Received,
	}

	raw, err := encMode.Marshal(stored)
	if err != nil {
		return nil, err
	}

	if err := l.db.Put(keyFromSeq(keyPrefixMsg, newSeq), raw, nil); err != nil {
		return nil, err
	}

	l.seq = newSeq
	return stored, nil
}

// HandleMessage implements message.Sink. Storage errors are logged, the receive loop keeps going.
func (l *MessageLog) HandleMessage(msg *message.Message) {
	if _, err := l.Append(msg); err != nil {
		log.Errorf("MessageLog: failed to store message from %s: %v", msg.From, err)
	}
}

func (l *MessageLog) GetBySeq(seq uint64) (*message.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := l.db.Get(keyFromSeq(keyPrefixMsg, seq), nil)
	if err != nil {
		return nil, err
	}

	msg := &message.Message{}
	if err := cbor.Unmarshal(raw, msg); err != nil {
		return nil, err
	}

	// Compare the Sequence Number just in case
	if msg.Sequence != seq {
		log.Errorf("GetBySeq: Sequence Number mismatch: %d != %d", seq, msg.Sequence)
		return nil, ErrCorrupted
	}

	return msg, nil
}

// EnumerateBySeq returns the messages with start <= seq < end.
func (l *MessageLog) EnumerateBySeq(start uint64, end uint64) ([]*message.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if start > end {
		return nil, fmt.Errorf("EnumerateBySeq: invalid range: start (%d) > end (%d)", start, end)
	}

	iter := l.db.NewIterator(&util.Range{Start: keyFromSeq(keyPrefixMsg, start), Limit: keyFromSeq(keyPrefixMsg, end)}, nil)
	defer iter.Release()

	var results []*message.Message
	for iter.Next() {
		msg := &message.Message{}
		if err := cbor.Unmarshal(iter.Value(), msg); err != nil {
			return nil, err
		}
		results = append(results, msg)
	}

	return results, iter.Error()
}

func (l *MessageLog) GetSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}
