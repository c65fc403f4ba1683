package cache

import "errors"

var (
	// ErrInvalidRequest 参数非法（ticker/周期/区间），属调用方错误，不重试。
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNoData 拉取尝试全部结束后，缓存中该区间仍然没有任何行。
	ErrNoData = errors.New("no data available")
)
