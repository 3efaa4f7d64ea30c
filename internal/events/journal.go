package events

import (
	"context"

	"github.com/segmentio/encoding/json"

	"ammex.com/pkg/wal"
)

// Journal 事件落盘（len+crc 帧 + JSON），用于对账和下游补发
type Journal struct {
	w *wal.Writer
	// 每条都 fsync 还是交给 Flush
	syncEach bool
}

func OpenJournal(path string, syncEach bool) (*Journal, error) {
	w, err := wal.OpenWrite(path, 0)
	if err != nil {
		return nil, err
	}
	return &Journal{w: w, syncEach: syncEach}, nil
}

func (j *Journal) Name() string { return "journal" }

func (j *Journal) Publish(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := j.w.Append(payload); err != nil {
		return err
	}
	if j.syncEach {
		return j.w.Flush()
	}
	return nil
}

func (j *Journal) Flush() error { return j.w.Flush() }
func (j *Journal) Close() error { return j.w.Close() }

// ReplayJournal 读回全部事件；半写的尾巴忽略
func ReplayJournal(path string, fn func(ev Event) error) (wal.ReplayStats, error) {
	return wal.Replay(path, wal.ReplayOptions{AllowTruncatedTail: true}, func(payload []byte) error {
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		return fn(ev)
	})
}
