package engine

import (
	"context"
	"sync/atomic"

	"ammex.com/internal/matching"
	"ammex.com/pkg/metrics"
)

// command 在 actor 协程里执行
type command func()

// assetActor 一个资产一个 actor：簿和池子的所有修改都排队串行执行。
// 数据库行锁仍然是跨进程的最终串行点
type assetActor struct {
	asset    string
	market   Market
	book     *matching.Book
	in       chan command
	batchMax int

	mailboxFull uint64
}

func newAssetActor(m Market, book *matching.Book, mailbox, batchMax int) *assetActor {
	return &assetActor{
		asset:    m.Asset,
		market:   m,
		book:     book,
		in:       make(chan command, mailbox),
		batchMax: batchMax,
	}
}

// tryEnqueue 邮箱满了直接拒绝，不阻塞调用方
func (a *assetActor) tryEnqueue(cmd command) error {
	select {
	case a.in <- cmd:
		return nil
	default:
		atomic.AddUint64(&a.mailboxFull, 1)
		return ErrEngineBusy
	}
}

func (a *assetActor) MailboxFull() uint64 { return atomic.LoadUint64(&a.mailboxFull) }

func (a *assetActor) run(ctx context.Context) {
	gauge := metrics.ActorMailboxDepth.WithLabelValues(a.asset)
	batch := make([]command, 0, a.batchMax)
	for {
		// 先阻塞拿 1 条，再尽量多拿几条
		select {
		case <-ctx.Done():
			return
		case first := <-a.in:
			batch = append(batch[:0], first)
		}
	drain:
		for len(batch) < a.batchMax {
			select {
			case cmd := <-a.in:
				batch = append(batch, cmd)
			default:
				break drain
			}
		}
		gauge.Set(float64(len(a.in)))

		for i, cmd := range batch {
			cmd()
			batch[i] = nil
		}
	}
}
