package matching

import (
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"ammex.com/internal/domain"
)

type priceLevel struct {
	price decimal.Decimal
	head  *lvNode
	tail  *lvNode
	size  int
}

// 双向链表节点，同价位按时间排队
type lvNode struct {
	prev  *lvNode
	next  *lvNode
	order *domain.Order
	lv    *priceLevel
}

// insert 正常情况新单时间最新，直接挂队尾；从库里恢复时可能乱序，从尾部往前找位置
func (l *priceLevel) insert(n *lvNode) {
	at := l.tail
	for at != nil && earlier(n.order, at.order) {
		at = at.prev
	}
	// 插在 at 后面；at == nil 表示插到队头
	n.prev = at
	if at != nil {
		n.next = at.next
		at.next = n
	} else {
		n.next = l.head
		l.head = n
	}
	if n.next != nil {
		n.next.prev = n
	} else {
		l.tail = n
	}
	l.size++
}

func (l *priceLevel) remove(n *lvNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
	l.size--
}

func (l *priceLevel) empty() bool { return l.size == 0 }

func (l *priceLevel) volume() decimal.Decimal {
	sum := decimal.Zero
	for n := l.head; n != nil; n = n.next {
		sum = sum.Add(n.order.Remaining)
	}
	return sum
}

// Level 深度档位
type Level struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
	Count  int
}

// Book 单个资产的挂单索引：价格档位用 B 树（最优价 O(log n)），撤单用 byID O(1)。
// 不加锁，由所属 actor 单线程访问
type Book struct {
	asset string
	asks  *btree.BTreeG[*priceLevel] // 价格升序
	bids  *btree.BTreeG[*priceLevel] // 价格降序
	byID  map[uint64]*lvNode
}

func NewBook(asset string) *Book {
	return &Book{
		asset: asset,
		asks: btree.NewBTreeG(func(a, b *priceLevel) bool {
			return a.price.LessThan(b.price)
		}),
		bids: btree.NewBTreeG(func(a, b *priceLevel) bool {
			return a.price.GreaterThan(b.price)
		}),
		byID: make(map[uint64]*lvNode, 1024),
	}
}

func (b *Book) Asset() string { return b.asset }

func (b *Book) side(s domain.Side) *btree.BTreeG[*priceLevel] {
	if s == domain.SideBid {
		return b.bids
	}
	return b.asks
}

// Add 只接受本资产、还在簿上的单；重复 ID 忽略
func (b *Book) Add(o *domain.Order) bool {
	if o == nil || o.Asset != b.asset || !o.Open() || !o.Side.Valid() {
		return false
	}
	if _, exists := b.byID[o.ID]; exists {
		return false
	}
	tree := b.side(o.Side)
	lv, ok := tree.Get(&priceLevel{price: o.Price})
	if !ok {
		lv = &priceLevel{price: o.Price}
		tree.Set(lv)
	}
	n := &lvNode{order: o, lv: lv}
	lv.insert(n)
	b.byID[o.ID] = n
	return true
}

// Remove 摘链，价位空了就删掉整个档位
func (b *Book) Remove(id uint64) bool {
	n := b.byID[id]
	if n == nil {
		return false
	}
	lv := n.lv
	lv.remove(n)
	delete(b.byID, id)
	if lv.empty() {
		b.side(n.order.Side).Delete(lv)
	}
	return true
}

func (b *Book) Get(id uint64) (*domain.Order, bool) {
	n := b.byID[id]
	if n == nil {
		return nil, false
	}
	return n.order, true
}

// Refresh 订单成交/撤单后调用：不再 open 的从簿上摘掉
func (b *Book) Refresh(o *domain.Order) {
	n := b.byID[o.ID]
	if n == nil {
		return
	}
	if n.order != o {
		n.order.Remaining = o.Remaining
		n.order.Status = o.Status
		n.order.ExecutedAt = o.ExecutedAt
		n.order.UpdatedAt = o.UpdatedAt
	}
	if !n.order.Open() {
		b.Remove(o.ID)
	}
}

func (b *Book) Len() int { return len(b.byID) }

func (b *Book) LevelCount(s domain.Side) int { return b.side(s).Len() }

// Best 最优价位的队头
func (b *Book) Best(s domain.Side) (*domain.Order, bool) {
	lv, ok := b.side(s).Min()
	if !ok {
		return nil, false
	}
	return lv.head.order, true
}

// Walk 按价格时间优先遍历，fn 返回 false 停止。遍历过程中不要修改簿
func (b *Book) Walk(s domain.Side, fn func(o *domain.Order) bool) {
	b.side(s).Scan(func(lv *priceLevel) bool {
		for n := lv.head; n != nil; n = n.next {
			if !fn(n.order) {
				return false
			}
		}
		return true
	})
}

// Orders 按优先级拷贝一份
func (b *Book) Orders(s domain.Side) []*domain.Order {
	out := make([]*domain.Order, 0, len(b.byID))
	b.Walk(s, func(o *domain.Order) bool {
		out = append(out, o.Clone())
		return true
	})
	return out
}

// Depth 前 n 档聚合，n<=0 返回全部
func (b *Book) Depth(s domain.Side, n int) []Level {
	out := make([]Level, 0, 16)
	b.side(s).Scan(func(lv *priceLevel) bool {
		out = append(out, Level{Price: lv.price, Amount: lv.volume(), Count: lv.size})
		return n <= 0 || len(out) < n
	})
	return out
}
