package stream

import (
	"strconv"
	"sync"

	"github.com/roach88/cmdsync/internal/kv"
)

// EventModify is the record type of a replaced row.
const EventModify = "MODIFY"

// Collector turns adapter writes into change-feed records, standing in
// for a table stream when running locally.
type Collector struct {
	mu      sync.Mutex
	seq     int
	records []CommandEvent
	err     error
}

// Record implements kv.ChangeFeed.
func (c *Collector) Record(table string, inserted bool, row kv.Item) {
	ev, err := NewInsertEvent(table, row)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.err == nil {
			c.err = err
		}
		return
	}
	c.seq++
	ev.EventID = strconv.Itoa(c.seq)
	ev.DynamoDB.SequenceNumber = strconv.Itoa(c.seq)
	if !inserted {
		ev.EventName = EventModify
	}
	c.records = append(c.records, *ev)
}

// Take returns the records collected so far and clears them, along with
// the first encoding error seen since the last call.
func (c *Collector) Take() ([]CommandEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	records, err := c.records, c.err
	c.records, c.err = nil, nil
	return records, err
}
