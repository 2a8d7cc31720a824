package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wwwzy/llmbot/internal/channel"
	"github.com/wwwzy/llmbot/internal/errx"
	"github.com/wwwzy/llmbot/internal/state"
	logx "github.com/wwwzy/llmbot/pkg/logger"
)

// nodeFunc 是一个节点的业务部分：读取状态，返回局部更新与一行轨迹文本。
// 节点不能直接修改 st。
type nodeFunc func(ctx context.Context, st *state.State) (state.Patch, string, error)

// wrap 把节点包装为图中的 lambda：执行、合并 patch、追加轨迹、推送轨迹、记录指标与 span
func (e *Engine) wrap(name string, body nodeFunc) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, st *state.State) (*state.State, error) {
		ctx, span := e.tracer.Start(ctx, "node."+name, trace.WithAttributes(
			attribute.String("llmbot.node", name),
			attribute.String("llmbot.message_id", st.MessageID),
		))
		defer span.End()

		start := time.Now()
		patch, text, err := body(ctx, st)
		e.deps.Metrics.ObserveNode(name, time.Since(start), err)
		if err != nil {
			// 未分类的错误均视为节点调用失败
			if errx.KindOf(err) == errx.KindInternal {
				err = errx.Node(name, err)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			recordFailure(ctx, err)
			logx.Warn().Err(err).Str("node", name).Str("message_id", st.MessageID).Msg("node failed")
			return st, err
		}

		ev := state.TraceEvent{
			Seq:     len(st.TraceInfos) + 1,
			Node:    name,
			Message: text,
			At:      time.Now(),
		}
		patch.TraceInfos = append(patch.TraceInfos, ev)
		st.Apply(patch)

		e.pushTrace(ctx, st, ev)
		return st, nil
	})
}

// pushTrace 在开启 trace 且有连接时推送 MONITOR 帧，失败只记日志
func (e *Engine) pushTrace(ctx context.Context, st *state.State, ev state.TraceEvent) {
	if !st.EnableTrace || st.WSConnectionID == "" || e.deps.Publisher == nil {
		return
	}
	text := "**" + ev.Node + "**: " + ev.Message
	err := e.deps.Publisher.Publish(ctx, st.WSConnectionID, channel.Monitor(st.MessageID, text))
	e.deps.Metrics.ObserveTracePush(err)
	if err != nil {
		logx.Warn().Err(err).Str("node", ev.Node).Str("connection_id", st.WSConnectionID).Msg("push trace failed")
	}
}

// failure 保存一次遍历中第一个节点或路由错误
type failure struct {
	mu  sync.Mutex
	err error
}

func (f *failure) set(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}

func (f *failure) get() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

type failureKey struct{}

func withFailure(ctx context.Context, f *failure) context.Context {
	return context.WithValue(ctx, failureKey{}, f)
}

func recordFailure(ctx context.Context, err error) {
	if f, ok := ctx.Value(failureKey{}).(*failure); ok {
		f.set(err)
	}
}
