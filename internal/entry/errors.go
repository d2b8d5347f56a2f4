package entry

import "fmt"

// ConflictError 表示写入或删除因服务端已被修改而被拒绝。errors.Is 可匹配 remote.ErrPreconditionFailed。
type ConflictError struct {
	Label string
	Name  string
	Err   error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s has been modified on the server since your last access. "+
		"Try downloading the %s to review the changes.", e.Name, e.Label)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}
