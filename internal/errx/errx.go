package errx

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 区分错误所属的处理阶段，决定对外暴露的状态码。
type Kind string

const (
	// KindConfig 配置错误：在任何节点执行前拒绝请求。
	KindConfig Kind = "configuration"
	// KindNode 节点调用失败：外部计算单元超时、报错或返回格式错误。
	KindNode Kind = "node"
	// KindRouting 路由错误：路由标签无匹配边，或 Agent 调用预算耗尽。
	KindRouting Kind = "routing"
	// KindInternal 其他内部错误。
	KindInternal Kind = "internal"
)

// Error 在底层错误外包装分类与操作名。
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建带分类的错误；err 为 nil 时返回 nil。
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) && existing.Kind == kind && existing.Op == op {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Config(op string, err error) error  { return New(KindConfig, op, err) }
func Node(op string, err error) error    { return New(KindNode, op, err) }
func Routing(op string, err error) error { return New(KindRouting, op, err) }

// KindOf 返回错误链上最外层的分类，未分类时为 KindInternal。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus 将错误分类映射为 HTTP 状态码。
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindConfig:
		return http.StatusBadRequest
	case KindNode:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
