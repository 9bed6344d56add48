package service

import "errors"

// 摄入拒绝错误。这些拒绝对同一个 client_event_id 是永久的，
// 客户端修正后必须换新的幂等键重新提交。
var (
	ErrDeviceNotFound    = errors.New("device not found or inactive")
	ErrChildNotFound     = errors.New("child not found in device site")
	ErrSequenceViolation = errors.New("presence sequence violation")
	ErrInvalidEventType  = errors.New("invalid event type")
)

// IsRejection 判断错误是否为摄入校验拒绝（而非存储或传输故障）
func IsRejection(err error) bool {
	return errors.Is(err, ErrDeviceNotFound) ||
		errors.Is(err, ErrChildNotFound) ||
		errors.Is(err, ErrSequenceViolation) ||
		errors.Is(err, ErrInvalidEventType)
}
