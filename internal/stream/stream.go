// Package stream turns change-feed records of command tables into
// workflow executions.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/cmdsync/internal/key"
	"github.com/roach88/cmdsync/internal/kv"
	"github.com/roach88/cmdsync/internal/model"
)

// EventInsert is the only record type that starts a workflow.
const EventInsert = "INSERT"

// maxExecutionName is the longest execution name the workflow engine
// accepts.
const maxExecutionName = 80

// CommandEvent is one change-feed record.
type CommandEvent struct {
	EventID        string       `json:"eventID,omitempty"`
	EventName      string       `json:"eventName"`
	EventSourceARN string       `json:"eventSourceARN"`
	AWSRegion      string       `json:"awsRegion,omitempty"`
	DynamoDB       StreamRecord `json:"dynamodb"`
}

// StreamRecord holds the key and images of a change.
type StreamRecord struct {
	Keys           Image  `json:"Keys"`
	NewImage       Image  `json:"NewImage,omitempty"`
	SequenceNumber string `json:"SequenceNumber,omitempty"`
}

// TableName returns the table the record came from.
func (e *CommandEvent) TableName() string {
	return TableNameFromARN(e.EventSourceARN)
}

// Key decodes the record key.
func (e *CommandEvent) Key() (key.DetailKey, error) {
	item, err := DecodeImage(e.DynamoDB.Keys)
	if err != nil {
		return key.DetailKey{}, fmt.Errorf("record keys: %w", err)
	}
	return item.Key(), nil
}

// Item decodes the new image. Overflowed attributes stay as URIs.
func (e *CommandEvent) Item() (kv.Item, error) {
	if len(e.DynamoDB.NewImage) == 0 {
		return nil, fmt.Errorf("record %s has no new image", e.EventID)
	}
	item, err := DecodeImage(e.DynamoDB.NewImage)
	if err != nil {
		return nil, fmt.Errorf("record new image: %w", err)
	}
	return item, nil
}

// Command decodes the new image as a command.
func (e *CommandEvent) Command() (*model.Command, error) {
	item, err := e.Item()
	if err != nil {
		return nil, err
	}
	return model.FromItem[model.Command](item)
}

// NewInsertEvent builds the record a store emits when item is inserted
// into table.
func NewInsertEvent(table string, item kv.Item) (*CommandEvent, error) {
	k := item.Key()
	keys, err := EncodeImage(kv.Item{"pk": k.PK, "sk": k.SK})
	if err != nil {
		return nil, err
	}
	img, err := EncodeImage(item)
	if err != nil {
		return nil, err
	}
	return &CommandEvent{
		EventName:      EventInsert,
		EventSourceARN: LocalStreamARN(table),
		DynamoDB:       StreamRecord{Keys: keys, NewImage: img},
	}, nil
}

// LocalStreamARN is the stream ARN used for records produced in process.
func LocalStreamARN(table string) string {
	return "arn:aws:dynamodb:local:000000000000:table/" + table + "/stream/local"
}

// TableNameFromARN extracts the table name from a stream or table ARN.
func TableNameFromARN(arn string) string {
	parts := strings.SplitN(arn, ":", 6)
	resource := parts[len(parts)-1]
	if rest, ok := strings.CutPrefix(resource, "table/"); ok {
		name, _, _ := strings.Cut(rest, "/")
		return name
	}
	return resource[strings.LastIndex(resource, ":")+1:]
}

// ExecutionName names the workflow run of a record:
// "{module}-{pk}-{sk}-{unix millis}", with characters the engine rejects
// replaced by "-". Long keys lose their leading characters so the sort key
// tail, which carries the version, stays in the name.
func ExecutionName(module string, k key.DetailKey, now time.Time) string {
	suffix := "-" + strconv.FormatInt(now.UnixMilli(), 10)
	head := sanitize(module) + "-"
	keyPart := sanitize(k.PK + "-" + k.SK)
	if room := maxExecutionName - len(suffix); len(head)+len(keyPart) > room {
		if len(head) < room {
			keyPart = keyPart[len(keyPart)-(room-len(head)):]
		} else {
			whole := head + keyPart
			head, keyPart = "", whole[len(whole)-room:]
		}
	}
	return head + keyPart + suffix
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// DecodeRecords reads either a single record or a {"Records": [...]} batch.
func DecodeRecords(raw []byte) ([]CommandEvent, error) {
	raw = bytes.TrimSpace(raw)
	var batch struct {
		Records []CommandEvent `json:"Records"`
	}
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("decode stream records: %w", err)
	}
	if batch.Records != nil {
		return batch.Records, nil
	}
	var single CommandEvent
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("decode stream record: %w", err)
	}
	return []CommandEvent{single}, nil
}
