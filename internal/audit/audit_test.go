package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(Config{LogDir: dir, MaxSize: 1, MaxBackups: 1, MaxAge: 1})
	require.NoError(t, err)

	logger.Record(Event{
		Type:       SignalSuppressed,
		Instrument: "BTC-USD",
		Reason:     "stale-data",
	})
	logger.Record(Event{
		Type:      IntentVetoed,
		Reference: "intent-1",
		Reason:    "position-cap-reached",
		Details:   map[string]interface{}{"open_count": 10},
	})
	require.NoError(t, logger.Close())

	f, err := os.Open(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	defer f.Close()

	var lines []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		lines = append(lines, ev)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, SignalSuppressed, lines[0].Type)
	assert.Equal(t, "stale-data", lines[0].Reason)
	assert.False(t, lines[0].Timestamp.IsZero(), "missing timestamps are filled in")
	assert.Equal(t, "intent-1", lines[1].Reference)
}

func TestLoggerCounts(t *testing.T) {
	logger, err := NewLogger(Config{LogDir: t.TempDir(), MaxSize: 1})
	require.NoError(t, err)
	defer logger.Close()

	for i := 0; i < 3; i++ {
		logger.Record(Event{Type: OrderTransition})
	}
	logger.Record(Event{Type: FillReported})

	assert.Equal(t, uint64(3), logger.Count(OrderTransition))
	assert.Equal(t, uint64(1), logger.Count(FillReported))
	assert.Zero(t, logger.Count(InvariantFault))
}

func TestMemorySinkByType(t *testing.T) {
	sink := &MemorySink{}
	sink.Record(Event{Type: SignalEmitted, Instrument: "BTC-USD"})
	sink.Record(Event{Type: SignalEmitted, Instrument: "ETH-USD"})
	sink.Record(Event{Type: PositionOpened, Instrument: "BTC-USD"})

	assert.Len(t, sink.Events(), 3)
	assert.Len(t, sink.ByType(SignalEmitted), 2)
	assert.Empty(t, sink.ByType(PositionClosed))
}

func TestMultiSinkFansOut(t *testing.T) {
	a := &MemorySink{}
	b := &MemorySink{}
	multi := MultiSink{a, b, NopSink{}}

	multi.Record(Event{Type: IntentCreated, Timestamp: time.Now()})

	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}
