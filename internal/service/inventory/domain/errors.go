// internal/service/inventory/domain/errors.go
package domain

import "errors"

var (
	// ErrLockUnavailable 在等待时间内没有抢到商品锁，调用方可退避重试
	ErrLockUnavailable = errors.New("inventory: lock unavailable")
	// ErrInsufficientStock 库存不足，属于业务结果而非故障
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInvalidState 非法的状态流转，通常意味着调用方的编程错误或竞态
	ErrInvalidState = errors.New("inventory: invalid state transition")
	// ErrBackendUnavailable 锁后端或存储不可达，当次操作失败
	ErrBackendUnavailable = errors.New("inventory: backend unavailable")
	// ErrReservationNotFound 预占单不存在
	ErrReservationNotFound = errors.New("inventory: reservation not found")
	// ErrPolicyRejected 预占请求被规则拒绝
	ErrPolicyRejected = errors.New("inventory: rejected by reserve policy")
)
