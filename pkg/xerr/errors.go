package xerr

import (
	"errors"
	"fmt"
)

// 常用错误码定义
const (
	OK                 = 200
	ServerCommonError  = 500
	RequestParamsError = 400
	DbError            = 501
	RecordNotFound     = 404
	TooManyRequests    = 429

	// 撮合 / 结算相关
	InsufficientBalance   = 1001
	InsufficientLiquidity = 1002
	OrderStateError       = 1003
	LockConflict          = 1004
	PoolUninitialized     = 1005
	EngineBusy            = 1006
	PriceLimit            = 1007
)

type CodeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap 保留错误码，追加上下文
func Wrap(code int, err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", &CodeError{Code: code, Msg: msg}, err)
}

// CodeOf 沿着 %w 链找第一个 CodeError；找不到返回 ServerCommonError
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ServerCommonError
}

func Is(err error, code int) bool {
	return err != nil && CodeOf(err) == code
}

func MapErrMsg(code int) string {
	switch code {
	case ServerCommonError:
		return "服务器开小差了"
	case RequestParamsError:
		return "参数错误"
	case DbError:
		return "数据库繁忙"
	case RecordNotFound:
		return "记录不存在"
	case TooManyRequests:
		return "请求过于频繁"
	case InsufficientBalance:
		return "余额不足"
	case InsufficientLiquidity:
		return "Insufficient liquidity"
	case OrderStateError:
		return "订单状态不允许该操作"
	case LockConflict:
		return "并发冲突"
	case PoolUninitialized:
		return "流动性池未初始化"
	case EngineBusy:
		return "引擎繁忙"
	case PriceLimit:
		return "超出限价"
	default:
		return "未知错误"
	}
}
