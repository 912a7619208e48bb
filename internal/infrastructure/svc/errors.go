package svc

import "errors"

// ErrNoFeedsEnabled 错误：没有选择任何市场
var ErrNoFeedsEnabled = errors.New("no market feeds enabled")

// ErrStorageInitFailed 错误：存储初始化失败
var ErrStorageInitFailed = errors.New("storage initialization failed")

// ErrConfigInvalid 错误：配置校验失败
var ErrConfigInvalid = errors.New("invalid configuration")
