package response

// 业务状态码
const (
	CodeSuccess = 0
	CodeError   = 1

	// 退款模块错误 100xx
	ErrRefundNotFound    = 10001
	ErrIneligibleAmount  = 10002
	ErrInvalidState      = 10003
	ErrGateway           = 10004
	ErrUnknownGateway    = 10005
	ErrSourceNotFound    = 10006
	ErrItemMismatch      = 10007
	ErrProductNotFound   = 10008
	ErrQCPending         = 10009

	// 信用凭证模块错误 200xx
	ErrNoteNotFound       = 20001
	ErrInsufficientCredit = 20002
	ErrNoteExpired        = 20003
	ErrNoteInactive       = 20004

	// 认证错误 300xx
	ErrTokenInvalid = 30001
	ErrNoPermission = 30002

	// 系统错误 500xx
	ErrServerInternal  = 50001
	ErrInvalidParam    = 50002
	ErrTooManyRequests = 50003
)
