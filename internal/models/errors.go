package models

import (
	"errors"
	"fmt"
)

// ErrNotFound 报警记录不存在
var ErrNotFound = errors.New("not found")

// ErrUnknownPatient 患者不在名册中
var ErrUnknownPatient = errors.New("unknown patient")

// ValidationError 输入数据不合法（生命体征或风险样本），该患者本次评估被跳过
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError 指定 alert_id 不存在
type NotFoundError struct {
	AlertID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("alert %s not found", e.AlertID)
}

// Is 使 errors.Is(err, ErrNotFound) 成立
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// IsValidation 判断错误链中是否包含 ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
