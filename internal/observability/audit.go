package observability

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const auditMaxSize = 10 * 1024 * 1024

// CallLog appends one JSON line per model call to an audit file,
// rotating once the file passes 10MB. It satisfies llm.Audit.
type CallLog struct {
	mu   sync.Mutex
	path string
	log  zerolog.Logger
}

func NewCallLog(path string, log zerolog.Logger) *CallLog {
	if path == "" {
		path = filepath.Join("logs", "llm.jsonl")
	}
	return &CallLog{path: path, log: log.With().Str("component", "audit").Logger()}
}

type callRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func (c *CallLog) RecordCall(prompt, response string, err error) {
	rec := callRecord{Timestamp: time.Now(), Prompt: prompt, Response: response}
	if err != nil {
		rec.Error = err.Error()
	}
	data, merr := json.Marshal(rec)
	if merr != nil {
		c.log.Error().Err(merr).Msg("marshal audit record")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeLine(data)
}

func (c *CallLog) writeLine(data []byte) {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		c.log.Error().Err(err).Msg("create audit directory")
		return
	}
	if info, err := os.Stat(c.path); err == nil && info.Size() > auditMaxSize {
		c.rotate()
	}

	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		c.log.Error().Err(err).Msg("open audit file")
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		c.log.Error().Err(err).Msg("write audit record")
	}
}

// rotate keeps a single .old generation.
func (c *CallLog) rotate() {
	oldPath := c.path + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(c.path, oldPath)
}
