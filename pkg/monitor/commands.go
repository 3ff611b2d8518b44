package monitor

import (
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/capno.go/pkg/maco2"
)

// DefaultCommandQueueSize is the capacity of a CommandQueue created with
// size 0.
const DefaultCommandQueueSize = 10

// CommandQueue is a bounded FIFO of sensor commands. It's safe to
// enqueue from any goroutine.
type CommandQueue struct {
	size int

	lock sync.Mutex
	cmds []maco2.Command
}

// NewCommandQueue creates a CommandQueue.
func NewCommandQueue(size int) *CommandQueue {
	if size <= 0 {
		size = DefaultCommandQueueSize
	}
	return &CommandQueue{size: size}
}

// Enqueue appends a command, dropping it if the queue is full.
func (q *CommandQueue) Enqueue(cmd maco2.Command) error {
	if !cmd.IsValid() {
		return fmt.Errorf("%w: 0x%02X", maco2.ErrUnknownCommand, byte(cmd))
	}
	q.lock.Lock()
	defer q.lock.Unlock()
	if len(q.cmds) >= q.size {
		glog.Warningf("%v, dropping %s", ErrCommandQueueFull, cmd)
		return ErrCommandQueueFull
	}
	q.cmds = append(q.cmds, cmd)
	return nil
}

// Dequeue removes the oldest command.
func (q *CommandQueue) Dequeue() (maco2.Command, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if len(q.cmds) == 0 {
		return 0, false
	}
	cmd := q.cmds[0]
	q.cmds = q.cmds[1:]
	return cmd, true
}

// Len returns the number of queued commands.
func (q *CommandQueue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.cmds)
}
