package matching

import (
	"sort"

	"ammex.com/internal/domain"
)

// 价格优先、时间优先；同一时间戳再按 ID 兜底，保证排序稳定

// BidBefore 买单：价格高的在前，同价先到的在前
func BidBefore(a, b *domain.Order) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c > 0
	}
	return earlier(a, b)
}

// AskBefore 卖单：价格低的在前，同价先到的在前
func AskBefore(a, b *domain.Order) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c < 0
	}
	return earlier(a, b)
}

func earlier(a, b *domain.Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Before 按 side 选比较函数
func Before(side domain.Side) func(a, b *domain.Order) bool {
	if side == domain.SideBid {
		return BidBefore
	}
	return AskBefore
}

func SortBids(orders []*domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool { return BidBefore(orders[i], orders[j]) })
}

func SortAsks(orders []*domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool { return AskBefore(orders[i], orders[j]) })
}

// Crosses 买价 >= 卖价 才能成交
func Crosses(bid, ask *domain.Order) bool {
	return bid.Price.GreaterThanOrEqual(ask.Price)
}
