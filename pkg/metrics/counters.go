// Package metrics provides a CSV-backed [websocket.Metrics] implementation
// for the gows server: connection, message, and error counts are kept
// in memory and appended to daily CSV files as they happen.
package metrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tzrikka/xdg"

	"github.com/tzrikka/gows/pkg/websocket"
)

const (
	metricsDirName = "gows"

	connectionsFile = "gows_connections_%s.csv"
	messagesFile    = "gows_messages_%s.csv"
	errorsFile      = "gows_errors_%s.csv"

	fileFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY
	filePerms = xdg.NewFilePermissions

	numKinds = int(websocket.KindConfigInvalid) + 1
)

// Counters is an in-memory, atomically-updated set of server metrics,
// mirrored to CSV files under the XDG config directory as each event
// happens. It implements [websocket.Metrics].
type Counters struct {
	logger zerolog.Logger

	connectionsOpened atomic.Int64
	connectionsClosed atomic.Int64
	messagesReceived  atomic.Int64
	messagesSent      atomic.Int64
	bytesReceived     atomic.Int64
	bytesSent         atomic.Int64
	errorsByKind      [numKinds]atomic.Int64

	muConn sync.Mutex
	muMsg  sync.Mutex
	muErr  sync.Mutex
}

// NewCounters creates a [Counters] that logs write failures through l.
// Its CSV files are created on demand, one per day per metric kind,
// under the XDG config directory (see [xdg.CreateFile]).
func NewCounters(l zerolog.Logger) *Counters {
	return &Counters{logger: l}
}

// ConnectionOpened implements [websocket.Metrics].
func (c *Counters) ConnectionOpened(id string) {
	c.connectionsOpened.Add(1)
	c.appendConnRow(id, "opened")
}

// ConnectionClosed implements [websocket.Metrics].
func (c *Counters) ConnectionClosed(id string) {
	c.connectionsClosed.Add(1)
	c.appendConnRow(id, "closed")
}

// MessageReceived implements [websocket.Metrics].
func (c *Counters) MessageReceived(opcode websocket.Opcode, bytes int) {
	c.messagesReceived.Add(1)
	c.bytesReceived.Add(int64(bytes))
	c.appendMsgRow(opcode, bytes, "in")
}

// MessageSent implements [websocket.Metrics].
func (c *Counters) MessageSent(opcode websocket.Opcode, bytes int) {
	c.messagesSent.Add(1)
	c.bytesSent.Add(int64(bytes))
	c.appendMsgRow(opcode, bytes, "out")
}

// ErrorOccurred implements [websocket.Metrics].
func (c *Counters) ErrorOccurred(kind websocket.Kind) {
	if int(kind) >= 0 && int(kind) < numKinds {
		c.errorsByKind[kind].Add(1)
	}
	c.appendErrRow(kind)
}

// Snapshot returns the current values of the in-memory counters,
// without touching the CSV files.
func (c *Counters) Snapshot() (connectionsOpened, connectionsClosed, messagesReceived, messagesSent, bytesReceived, bytesSent int64) {
	return c.connectionsOpened.Load(), c.connectionsClosed.Load(),
		c.messagesReceived.Load(), c.messagesSent.Load(),
		c.bytesReceived.Load(), c.bytesSent.Load()
}

func (c *Counters) appendConnRow(id, event string) {
	c.muConn.Lock()
	defer c.muConn.Unlock()

	now := time.Now()
	row := []string{now.Format(time.RFC3339), id, event}
	if err := c.appendToCSVFile(connectionsFile, now, row); err != nil {
		c.logger.Error().Err(err).Str("connection_id", id).Msg("failed to write connection metrics row")
	}
}

func (c *Counters) appendMsgRow(opcode websocket.Opcode, bytes int, direction string) {
	c.muMsg.Lock()
	defer c.muMsg.Unlock()

	now := time.Now()
	row := []string{now.Format(time.RFC3339), opcode.String(), strconv.Itoa(bytes), direction}
	if err := c.appendToCSVFile(messagesFile, now, row); err != nil {
		c.logger.Error().Err(err).Msg("failed to write message metrics row")
	}
}

func (c *Counters) appendErrRow(kind websocket.Kind) {
	c.muErr.Lock()
	defer c.muErr.Unlock()

	now := time.Now()
	row := []string{now.Format(time.RFC3339), kind.String()}
	if err := c.appendToCSVFile(errorsFile, now, row); err != nil {
		c.logger.Error().Err(err).Msg("failed to write error metrics row")
	}
}

func (c *Counters) appendToCSVFile(pattern string, t time.Time, record []string) error {
	name := fmt.Sprintf(pattern, t.Format(time.DateOnly))
	filename, err := xdg.CreateFile(xdg.ConfigHome, metricsDirName, name)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filename, fileFlags, filePerms) //gosec:disable G304 // Hardcoded path.
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(record); err != nil {
		return err
	}

	w.Flush()
	return w.Error()
}
