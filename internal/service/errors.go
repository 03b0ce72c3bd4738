package service

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 聊天核心的错误分类，调用方用 errors.Is 判断
var (
	// ErrNotFound 会话方、商品、消息不存在，属于客户端错误，不自动重试
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput 正文为空、会话方非法等
	ErrInvalidInput = errors.New("invalid input")
	// ErrStorage 底层存储不可用；除 send 外的操作都幂等，可整体重试
	ErrStorage = errors.New("storage failure")
)

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// storageErr 记录并包装存储错误
func storageErr(op string, err error) error {
	GetMonitor().RecordStorageError()
	zap.L().Error("chat storage failure", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// lookupErr gorm.ErrRecordNotFound 映射为 ErrNotFound，其余视为存储错误
func lookupErr(op, what string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %s: %w", op, what, ErrNotFound)
	}
	return storageErr(op, err)
}
