package xerr

import "errors"

var (
	// 通用错误
	ErrInternalServer = errors.New("服务器内部错误")

	// 入队校验错误（ValidationError，在 Enqueue 同步拒绝，任务不会被创建）
	ErrInvalidParams      = errors.New("无效的请求参数")
	ErrPriorityOutOfRange = errors.New("优先级必须在 1 到 10 之间")
	ErrChunkSizeInvalid   = errors.New("分片大小必须为正数")
	ErrFileNameInvalid    = errors.New("文件名不能为空")
	ErrFileSizeInvalid    = errors.New("文件大小不能为负数")
	ErrJobAlreadyTerminal = errors.New("任务已处于终态")

	// 资源未找到错误
	ErrJobNotFound    = errors.New("上传任务不存在")
	ErrResumeNotFound = errors.New("断点续传记录不存在")
	ErrSourceNotFound = errors.New("源文件不存在或不可读")

	// 配置错误（拒绝时保持原有配置不变）
	ErrThrottleInvalid    = errors.New("带宽限速配置非法")
	ErrConcurrencyInvalid = errors.New("并发上限配置非法")

	// 运行时错误
	ErrTransport    = errors.New("分片传输失败")
	ErrResumeStore  = errors.New("续传记录持久化失败")
	ErrSourceRead   = errors.New("源文件读取失败")
	ErrStorageError = errors.New("存储后端操作失败")
	ErrMQError      = errors.New("消息队列操作失败")
	ErrEngineClosed = errors.New("上传引擎已关闭")
)
