package engine

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	"github.com/wwwzy/llmbot/internal/chatbot"
	"github.com/wwwzy/llmbot/internal/errx"
	"github.com/wwwzy/llmbot/internal/state"
)

// route 是某个分支点的封闭结果集合，每个取值对应唯一的目标节点
type route interface {
	target() string
}

// modeRoute 为 query_preprocess 之后按 chatbot_mode 的分流
type modeRoute int

const (
	modeChat modeRoute = iota + 1
	modeRAG
	modeAgent
)

func (r modeRoute) target() string {
	switch r {
	case modeChat:
		return NodeDirectGeneration
	case modeRAG:
		return NodeKnowledgeRetrieve
	case modeAgent:
		return NodeIntentionDetection
	}
	return ""
}

func routeMode(st *state.State) (modeRoute, error) {
	switch st.ChatbotConfig.ChatbotMode {
	case chatbot.ModeChat:
		return modeChat, nil
	case chatbot.ModeRAG:
		return modeRAG, nil
	case chatbot.ModeAgent:
		return modeAgent, nil
	}
	return 0, fmt.Errorf("%w: chatbot_mode %q", ErrUnknownRoute, st.ChatbotConfig.ChatbotMode)
}

// intentRoute 为意图识别之后的分流
type intentRoute int

const (
	intentMatched intentRoute = iota + 1
	intentAgent
)

func (r intentRoute) target() string {
	switch r {
	case intentMatched:
		return NodeMatchedQuery
	case intentAgent:
		return NodeAgent
	}
	return ""
}

func routeIntent(st *state.State) (intentRoute, error) {
	if st.IntentType == IntentSimilarQuery {
		return intentMatched, nil
	}
	return intentAgent, nil
}

// agentRoute 为 agent 每轮之后的分流
type agentRoute int

const (
	agentTools agentRoute = iota + 1
	agentFinal
)

func (r agentRoute) target() string {
	switch r {
	case agentTools:
		return NodeToolsExecution
	case agentFinal:
		return NodeFinalResults
	}
	return ""
}

func routeAgent(st *state.State) (agentRoute, error) {
	if st.AgentFinished {
		return agentFinal, nil
	}
	if st.AgentCurrentCallNumber <= st.AgentRepeatedCallLimit {
		return agentTools, nil
	}
	return 0, fmt.Errorf("%w: call %d over limit %d",
		ErrAgentBudgetExhausted, st.AgentCurrentCallNumber, st.AgentRepeatedCallLimit)
}

// branch 把封闭路由转为 eino 分支。声明之外的目标视为路由错误。
func branch[R route](fn func(*state.State) (R, error), targets ...R) *compose.GraphBranch {
	ends := make(map[string]bool, len(targets))
	for _, t := range targets {
		ends[t.target()] = true
	}
	return compose.NewGraphBranch(func(ctx context.Context, st *state.State) (string, error) {
		r, err := fn(st)
		if err == nil && !ends[r.target()] {
			err = fmt.Errorf("%w: %q", ErrUnknownRoute, r.target())
		}
		if err != nil {
			err = errx.Routing("route", err)
			recordFailure(ctx, err)
			return "", err
		}
		return r.target(), nil
	}, ends)
}
