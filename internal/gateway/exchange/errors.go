package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// 错误分类：重试策略与熔断只看这里的标签。
var (
	// ErrNotFound：交易所查不到该订单。
	ErrNotFound = errors.New("order not found on venue")
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransient
	KindAuth
)

type VenueError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("venue %s: %v", e.Op, e.Err)
}

func (e *VenueError) Unwrap() error { return e.Err }

func Transient(op string, err error) error {
	return &VenueError{Kind: KindTransient, Op: op, Err: err}
}

func Auth(op string, err error) error {
	return &VenueError{Kind: KindAuth, Op: op, Err: err}
}

// IsRetryable 仅瞬时网络类错误可重试；鉴权/参数类立即上抛。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ve *VenueError
	if errors.As(err, &ve) {
		return ve.Kind == KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

func IsAuth(err error) bool {
	var ve *VenueError
	return errors.As(err, &ve) && ve.Kind == KindAuth
}
