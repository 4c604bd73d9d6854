package instance

import "fmt"

// ErrKind 错误类别，API 层据此选择响应码
type ErrKind int

const (
	KindValidation ErrKind = iota + 1 // 参数非法，未产生任何副作用
	KindNotFound                      // 实例不存在
	KindConflict                      // 实例名冲突或状态冲突
	KindCertificate                   // 证书生成失败
	KindProcess                       // 进程启动/终止失败
	KindConfigWrite                   // 配置写盘失败
)

// Error 带类别的实例操作错误
type Error struct {
	Kind    ErrKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func errValidation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func errNotFound(name string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("实例 [%s] 不存在", name)}
}

func errConflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func errCertificate(err error) *Error {
	return &Error{Kind: KindCertificate, Message: "证书生成失败", Err: err}
}

func errProcess(msg string, err error) *Error {
	return &Error{Kind: KindProcess, Message: msg, Err: err}
}

func errConfigWrite(err error) *Error {
	return &Error{Kind: KindConfigWrite, Message: "写入配置失败", Err: err}
}
