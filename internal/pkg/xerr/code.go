package xerr

// 定义了统一的业务错误码
const (
	SuccessCode = 20000 // 通用成功码

	// --- 客户端请求错误系列 (400xx) ---
	InvalidParamsCode      = 40000 // 无效的请求参数
	ValidationFailedCode   = 40001 // 入队参数验证失败
	PriorityOutOfRangeCode = 40002 // 优先级超出 1-10 范围
	ChunkSizeInvalidCode   = 40003 // 分片大小非法（零或负数）
	FileNameInvalidCode    = 40004 // 文件名无效
	FileSizeInvalidCode    = 40005 // 文件大小非法
	JobAlreadyTerminalCode = 40006 // 任务已处于终态，无法操作

	// --- 资源未找到错误系列 (404xx) ---
	NotFoundCode       = 40400 // 通用资源未找到
	JobNotFoundCode    = 40401 // 上传任务不存在
	ResumeNotFoundCode = 40402 // 断点续传记录不存在
	SourceNotFoundCode = 40403 // 源文件不存在或不可读

	// --- 配置错误系列 (422xx) ---
	ThrottleInvalidCode    = 42200 // 带宽限速配置非法
	ConcurrencyInvalidCode = 42201 // 并发上限配置非法

	// --- 服务端错误系列 (500xx) ---
	InternalServerErrorCode = 50000 // 通用服务器内部错误
	TransportErrorCode      = 50001 // 分片传输失败
	ResumeStoreErrorCode    = 50002 // 续传记录持久化失败
	SourceReadErrorCode     = 50003 // 源文件读取失败
	StorageErrorCode        = 50004 // 存储后端操作失败
	MQErrorCode             = 50005 // 消息队列操作失败
	EngineClosedCode        = 50006 // 引擎已关闭
)
