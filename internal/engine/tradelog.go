package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Entry is one NDJSON line in the trade log: the step outcome plus the
// indicator values that produced it.
type Entry struct {
	Timestamp     time.Time `json:"timestamp"`
	Pair          string    `json:"pair"`
	Price         float64   `json:"price"`
	Action        Action    `json:"action"`
	Reason        Reason    `json:"reason"`
	Result        string    `json:"result"`
	RSI           float64   `json:"rsi,omitempty"`
	MACD          float64   `json:"macd,omitempty"`
	Signal        float64   `json:"signal,omitempty"`
	MovingAverage float64   `json:"moving_average,omitempty"`
	Sentiment     float64   `json:"sentiment,omitempty"`
}

// TradeLog appends step outcomes to an NDJSON file. Append never fails the
// caller: a trading decision must not be lost to a logging error.
type TradeLog struct {
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

func NewTradeLog(path string) (*TradeLog, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &TradeLog{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (t *TradeLog) Append(entry Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	payload, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal trade log entry: %v\n", err)
		return
	}
	if _, err := t.writer.Write(append(payload, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write trade log entry: %v\n", err)
		return
	}
	if err := t.writer.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to flush trade log: %v\n", err)
	}
}

func (t *TradeLog) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.writer.Flush(); err != nil {
		_ = t.file.Close()
		return err
	}
	return t.file.Close()
}
