// Package errs 定义了服务对外暴露的错误类别。
// 各层通过 %w 包装这些哨兵错误，边界层（handler）据此映射 HTTP 状态码。
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation 表示调用方输入无效（空文本列表、空问题、非法 limit）。
	ErrValidation = errors.New("validation error")
	// ErrModelLoad 表示预训练 embedding 模型不可用。
	ErrModelLoad = errors.New("embedding model unavailable")
	// ErrStoreUnavailable 表示无法建立或保持与向量存储的连接。
	ErrStoreUnavailable = errors.New("vector store unavailable")
	// ErrPartialBatch 表示批量写入中途失败，整批已回滚。
	ErrPartialBatch = errors.New("document batch failed")
)

// Validationf 构造一个 ErrValidation。
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// BatchError 描述一次整批失败的写入，调用方只会收到这一个聚合错误。
type BatchError struct {
	Size int
	Err  error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch of %d documents rolled back: %v", e.Size, e.Err)
}

// Unwrap 同时暴露 ErrPartialBatch 与底层原因，errors.Is 对两者都成立。
func (e *BatchError) Unwrap() []error {
	return []error{ErrPartialBatch, e.Err}
}

// IsClientError 判断错误是否应映射为 4xx。
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}
