package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wwwzy/llmbot/internal/chatbot"
	"github.com/wwwzy/llmbot/internal/errx"
	"github.com/wwwzy/llmbot/internal/invoke"
	"github.com/wwwzy/llmbot/internal/state"
)

// 意图识别的结果
const (
	IntentSimilarQuery = "similar query found"
	IntentDetected     = "intention detected"
)

func (e *Engine) queryPreprocess(ctx context.Context, st *state.State) (state.Patch, string, error) {
	resp, p, err := callNode[invoke.QueryPreprocessResponse](ctx, e.deps.Invoker, invoke.FnQueryPreprocess, invoke.QueryPreprocessRequest{
		Query:       st.Query,
		ChatHistory: st.ChatHistory,
		LLMConfig:   st.ChatbotConfig.QueryProcessConfig.ConversationQueryRewrite,
	})
	if err != nil {
		return state.Patch{}, "", err
	}
	rewrite := strings.TrimSpace(resp.QueryRewrite)
	if rewrite == "" {
		rewrite = st.Query
	}
	p.QueryRewrite = state.Set(rewrite)
	return p, "query rewrite: " + rewrite, nil
}

func (e *Engine) directGeneration(ctx context.Context, st *state.State) (state.Patch, string, error) {
	llm := st.ChatbotConfig.ChatConfig
	templates, err := e.templates(ctx, st, chatbot.TaskChat, llm.ModelID)
	if err != nil {
		return state.Patch{}, "", err
	}
	resp, p, err := callNode[invoke.LLMResponse](ctx, e.deps.Invoker, invoke.FnLLMGenerate, invoke.LLMRequest{
		Task:        chatbot.TaskChat,
		Query:       st.Query,
		ChatHistory: st.ChatHistory,
		LLMConfig:   llm,
		Templates:   templates,
	})
	if err != nil {
		return state.Patch{}, "", err
	}
	p.Answer = state.Set(resp.Answer)
	return p, "answer generated by " + llm.ModelID, nil
}

func (e *Engine) knowledgeRetrieve(ctx context.Context, st *state.State) (state.Patch, string, error) {
	contexts, figures, p, err := e.retrieve(ctx, st)
	if err != nil {
		return state.Patch{}, "", err
	}
	p.Contexts = state.Set(contexts)
	p.Figure = state.Set(figures)
	return p, fmt.Sprintf("retrieved %d contexts", len(contexts)), nil
}

func (e *Engine) ragGeneration(ctx context.Context, st *state.State) (state.Patch, string, error) {
	answer, p, err := e.generateRAG(ctx, st, st.Contexts)
	if err != nil {
		return state.Patch{}, "", err
	}
	p.Answer = state.Set(answer)
	if len(st.Figure) > 1 {
		p.Figure = state.Set(firstFigure(st.Figure))
	}
	return p, fmt.Sprintf("answer generated from %d contexts", len(st.Contexts)), nil
}

func (e *Engine) intentionDetection(ctx context.Context, st *state.State) (state.Patch, string, error) {
	ic := st.ChatbotConfig.IntentionConfig
	query := st.Query
	if ic.QueryKey == "query_rewrite" {
		query = st.SearchQuery()
	}
	resp, p, err := callNode[invoke.IntentionResponse](ctx, e.deps.Invoker, invoke.FnIntentionDetection, invoke.IntentionRequest{
		Query:      query,
		Retrievers: ic.Retrievers,
	})
	if err != nil {
		return state.Patch{}, "", err
	}

	examples := resp.Examples
	if examples == nil {
		examples = []state.IntentExample{}
	}
	tools := []string{}
	seen := map[string]bool{}
	for _, ex := range examples {
		if ex.Intent != "" && !seen[ex.Intent] {
			seen[ex.Intent] = true
			tools = append(tools, ex.Intent)
		}
	}

	intent := IntentDetected
	if top, ok := topExample(examples); ok && ic.SimilarQueryThreshold > 0 &&
		top.Score >= ic.SimilarQueryThreshold && top.Answer != "" {
		intent = IntentSimilarQuery
	}

	p.IntentFewshotExamples = state.Set(examples)
	p.IntentFewshotTools = state.Set(tools)
	p.IntentType = state.Set(intent)
	return p, fmt.Sprintf("%s, %d examples, tools %v", intent, len(examples), tools), nil
}

func (e *Engine) matchedQueryReturn(_ context.Context, st *state.State) (state.Patch, string, error) {
	top, ok := topExample(st.IntentFewshotExamples)
	if !ok {
		return state.Patch{}, "", errors.New("no matched example")
	}
	return state.Patch{Answer: state.Set(top.Answer)}, "matched query: " + top.Query, nil
}

func (e *Engine) finalResults(_ context.Context, st *state.State) (state.Patch, string, error) {
	if strings.TrimSpace(st.Answer) == "" {
		return state.Patch{}, "", errx.Routing(NodeFinalResults, ErrNoAnswer)
	}
	tools := make([]string, 0, len(st.AgentToolHistory))
	for _, c := range st.AgentToolHistory {
		tools = append(tools, c.Name)
	}
	return state.Patch{
		ExtraResponse: state.DeepMerge{
			"agent": map[string]any{
				"call_number": st.AgentCurrentCallNumber,
				"tools":       tools,
			},
		},
	}, fmt.Sprintf("finished after %d agent calls", st.AgentCurrentCallNumber), nil
}

// retrieve 调用检索函数，figure 去重并保持首次出现的顺序
func (e *Engine) retrieve(ctx context.Context, st *state.State) ([]string, []state.Figure, state.Patch, error) {
	rc := st.ChatbotConfig.RAGConfig.RetrieverConfig
	resp, p, err := callNode[invoke.RetrieveResponse](ctx, e.deps.Invoker, invoke.FnRetriever, invoke.RetrieveRequest{
		Query:      st.SearchQuery(),
		Retrievers: rc.Retrievers,
		Rerankers:  rc.Rerankers,
	})
	if err != nil {
		return nil, nil, state.Patch{}, err
	}

	contexts := make([]string, 0, len(resp.Documents))
	figures := []state.Figure{}
	seen := map[state.Figure]bool{}
	for _, d := range resp.Documents {
		contexts = append(contexts, d.PageContent)
		for _, f := range d.Figure {
			if !seen[f] {
				seen[f] = true
				figures = append(figures, f)
			}
		}
	}
	return contexts, figures, p, nil
}

func (e *Engine) generateRAG(ctx context.Context, st *state.State, contexts []string) (string, state.Patch, error) {
	llm := st.ChatbotConfig.RAGConfig.LLMConfig
	templates, err := e.templates(ctx, st, chatbot.TaskRAG, llm.ModelID)
	if err != nil {
		return "", state.Patch{}, err
	}
	resp, p, err := callNode[invoke.LLMResponse](ctx, e.deps.Invoker, invoke.FnLLMGenerate, invoke.LLMRequest{
		Task:        chatbot.TaskRAG,
		Query:       st.Query,
		ChatHistory: st.ChatHistory,
		Contexts:    contexts,
		LLMConfig:   llm,
		Templates:   templates,
	})
	if err != nil {
		return "", state.Patch{}, err
	}
	return resp.Answer, p, nil
}

// templates 查找 prompt 模板，未配置存储或没有模板时返回空 map
func (e *Engine) templates(ctx context.Context, st *state.State, task chatbot.TaskType, modelID string) (map[string]string, error) {
	if e.deps.Prompts == nil {
		return map[string]string{}, nil
	}
	t, err := e.deps.Prompts.PromptTemplates(ctx, st.ChatbotConfig.GroupName, modelID, string(task))
	if err != nil {
		return nil, fmt.Errorf("load %s prompt templates: %w", task, err)
	}
	if t == nil {
		t = map[string]string{}
	}
	return t, nil
}

// topExample 返回得分最高的样例，同分取靠前者
func topExample(examples []state.IntentExample) (state.IntentExample, bool) {
	if len(examples) == 0 {
		return state.IntentExample{}, false
	}
	top := examples[0]
	for _, ex := range examples[1:] {
		if ex.Score > top.Score {
			top = ex
		}
	}
	return top, true
}

func firstFigure(figs []state.Figure) []state.Figure {
	if len(figs) == 0 {
		return []state.Figure{}
	}
	return []state.Figure{figs[0]}
}
