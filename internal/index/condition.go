package index

import (
	"errors"
	"fmt"
)

// Condition 是条目的可见状态，数值与 HTTP 接口返回值一致。
type Condition int

const (
	Downloaded Condition = 0
	Pending    Condition = 1
	Fetching   Condition = 2
)

// ErrIllegalTransition 表示请求的状态迁移不在允许的路径上。
var ErrIllegalTransition = errors.New("illegal condition transition")

func (c Condition) String() string {
	switch c {
	case Downloaded:
		return "downloaded"
	case Pending:
		return "pending"
	case Fetching:
		return "fetching"
	default:
		return fmt.Sprintf("condition(%d)", int(c))
	}
}

// Valid 判断数值是否属于三种已知状态。
func (c Condition) Valid() bool {
	return c == Downloaded || c == Pending || c == Fetching
}

// Transition 校验 from -> to 是否为合法迁移：
//
//	Pending     -> Fetching    任务被 worker 领取
//	Fetching    -> Downloaded  抓取成功并提交
//	Fetching    -> Pending     抓取失败，等待重试或重新请求
//	Downloaded  -> Pending     检测到上游更新
func Transition(from, to Condition) error {
	switch {
	case from == Pending && to == Fetching,
		from == Fetching && to == Downloaded,
		from == Fetching && to == Pending,
		from == Downloaded && to == Pending:
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}
