package store

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kart-io/logger"
	"github.com/oklog/ulid/v2"

	"github.com/kart-io/sage/internal/model"
	"github.com/kart-io/sage/internal/pkg/rag/docutil"
	"github.com/kart-io/sage/pkg/utils/json"
)

const maxEventLine = 16 << 20

// NewEventID 返回可按字典序排序的事件 ID。
func NewEventID() string {
	return ulid.Make().String()
}

// EventLog 追加写的 JSON Lines 文件。
// 追加操作串行执行，每条记录一次写入，行之间不会交错。
type EventLog[T any] struct {
	path string
	mu   sync.Mutex
}

// QueryLog 已回答查询的日志。
type QueryLog = EventLog[model.QueryLog]

// FeedbackLog 用户反馈日志。
type FeedbackLog = EventLog[model.FeedbackLog]

// NewEventLog 创建位于 path 的日志，文件在首次追加时创建。
func NewEventLog[T any](path string) *EventLog[T] {
	return &EventLog[T]{path: path}
}

// Path 返回文件路径。
func (l *EventLog[T]) Path() string {
	return l.path
}

// Append 将 rec 写为一行。
func (l *EventLog[T]) Append(rec T) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := docutil.EnsureDir(filepath.Dir(l.path)); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadAll 按文件顺序返回全部记录，跳过格式错误的行。
func (l *EventLog[T]) ReadAll() ([]T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []T
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), maxEventLine)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(line, &rec); err != nil {
			logger.Warnw("Skipping malformed event log line", "path", l.path, "line", lineNo, "error", err.Error())
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return out, err
	}
	return out, nil
}
