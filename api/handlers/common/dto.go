package common

// ErrorBody 内部 API 错误响应，错误原因直接回传调用方
type ErrorBody struct {
	Error string `json:"error"`
}

// Err 构造错误响应体
func Err(reason string) ErrorBody {
	return ErrorBody{Error: reason}
}
