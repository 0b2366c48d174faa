package service

import "errors"

// 错误分类：输入错误在进入流水线前被拒绝；处理错误只中止单个条目；
// 模型不可用降级为备注；指纹库错误才会令整个请求失败。
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrProcessing       = errors.New("processing failed")
	ErrModelUnavailable = errors.New("deep model unavailable")
	ErrStore            = errors.New("fingerprint store unavailable")
)
