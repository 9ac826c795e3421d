package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewConnectionID returns an identifier for a realtime session. KSUIDs sort
// by creation time, which keeps session logs readable.
func NewConnectionID() string {
	return "conn_" + NewKSUID()
}

// NewRequestID returns a snowflake id for request correlation. The node is
// taken from SNOWFLAKE_NODE (default 1) and created once per process; if it
// cannot be initialized a KSUID is returned instead.
func NewRequestID() string {
	nodeOnce.Do(func() {
		nodeID := int64(1)
		if v, err := strconv.ParseInt(os.Getenv("SNOWFLAKE_NODE"), 10, 64); err == nil {
			nodeID = v
		}
		node, _ = snowflake.NewNode(nodeID)
	})
	if node == nil {
		return NewKSUID()
	}
	return node.Generate().String()
}
