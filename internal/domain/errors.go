package domain

import (
	"errors"

	"ammex.com/pkg/xerr"
)

var (
	ErrInvalidArgument       = xerr.NewErrCode(xerr.RequestParamsError)
	ErrInsufficientBalance   = xerr.NewErrCode(xerr.InsufficientBalance)
	ErrInsufficientLiquidity = xerr.NewErrCode(xerr.InsufficientLiquidity)
	ErrOrderNotFound         = xerr.New(xerr.RecordNotFound, "订单不存在")
	ErrPoolNotFound          = xerr.NewErrCode(xerr.PoolUninitialized)
	ErrOrderState            = xerr.NewErrCode(xerr.OrderStateError)
	ErrConflict              = xerr.NewErrCode(xerr.LockConflict)
	ErrPriceLimit            = xerr.NewErrCode(xerr.PriceLimit)
	ErrUnknownMarket         = xerr.New(xerr.RequestParamsError, "未知交易对")

	// ErrTxRequired 加锁读/改余额必须在事务里
	ErrTxRequired = errors.New("ledger: transaction required")
)

// IsBusiness 余额不足 / 流动性不足 / 冲突 / 超限价这类可预期的失败
func IsBusiness(err error) bool {
	switch xerr.CodeOf(err) {
	case xerr.InsufficientBalance, xerr.InsufficientLiquidity, xerr.LockConflict, xerr.PriceLimit:
		return true
	}
	return false
}
