package id

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

// MaxNode is the largest node id with the default 10 node bits.
const MaxNode = 1<<10 - 1

var (
	mu   sync.RWMutex
	node *snowflake.Node
)

// Init sets the generator node for this process. Every concurrently running
// server, worker or pipectl process needs its own nodeID.
func Init(nodeID int64) error {
	if nodeID < 0 || nodeID > MaxNode {
		return fmt.Errorf("snowflake node id must be in 0..%d, got %d", MaxNode, nodeID)
	}
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("creating snowflake node: %w", err)
	}

	mu.Lock()
	node = n
	mu.Unlock()
	return nil
}

// New generates a time-ordered int64 id. Init must have been called.
func New() int64 {
	mu.RLock()
	n := node
	mu.RUnlock()
	if n == nil {
		panic("id: New called before Init")
	}
	return n.Generate().Int64()
}

// Node returns the node that generated id.
func Node(id int64) int64 {
	return snowflake.ParseInt64(id).Node()
}

// Time returns when id was generated, to the millisecond.
func Time(id int64) time.Time {
	return time.UnixMilli(snowflake.ParseInt64(id).Time())
}
