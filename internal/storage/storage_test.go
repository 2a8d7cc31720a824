package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "llmbot.db")
	s, err := Open(ctx, Config{
		Path:      dbPath,
		EnableWAL: true,
	})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPromptTemplatesUpsertAndLookup(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	rows := []PromptTemplate{
		{GroupName: "Admin", ModelID: "m1", Task: "rag", Name: "system_prompt", Template: "v1"},
		{GroupName: "Admin", ModelID: "m1", Task: "rag", Name: "fewshot", Template: "f"},
		{GroupName: "Admin", ModelID: "m1", Task: "chat", Name: "system_prompt", Template: "c"},
		{GroupName: "Other", ModelID: "m1", Task: "rag", Name: "system_prompt", Template: "o"},
	}
	for i := range rows {
		if err := s.UpsertPromptTemplate(ctx, &rows[i]); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	if err := s.UpsertPromptTemplate(ctx, &PromptTemplate{GroupName: "Admin", ModelID: "m1", Task: "rag", Name: "system_prompt", Template: "v2"}); err != nil {
		t.Fatalf("upsert overwrite: %v", err)
	}

	got, err := s.PromptTemplates(ctx, "Admin", "m1", "rag")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(got) != 2 || got["system_prompt"] != "v2" || got["fewshot"] != "f" {
		t.Fatalf("unexpected templates: %#v", got)
	}

	empty, err := s.PromptTemplates(ctx, "Admin", "unknown-model", "rag")
	if err != nil {
		t.Fatalf("lookup missing: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty map, got %#v", empty)
	}

	n, err := s.DeletePromptTemplate(ctx, "Admin", "m1", "rag", "fewshot")
	if err != nil || n != 1 {
		t.Fatalf("delete: n=%d err=%v", n, err)
	}
	all, err := s.QueryPromptTemplates(ctx, PromptQuery{GroupName: "Admin"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 admin templates, got %d", len(all))
	}
}

func TestUpsertPromptTemplateRequiresKey(t *testing.T) {
	s := openTestStorage(t)
	if err := s.UpsertPromptTemplate(context.Background(), &PromptTemplate{GroupName: "Admin"}); err == nil {
		t.Fatalf("expected error for incomplete key")
	}
}

func TestToolCallRecordLifecycle(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	rec := &ToolCallRecord{TraceID: "msg-1", Tool: "get_weather", ParamsJSON: `{"city":"x"}`, Status: "running", StartedAt: time.Now().UTC()}
	if err := s.InsertToolCallRecord(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if rec.ID == 0 {
		t.Fatalf("expected id to be assigned")
	}

	status := "success"
	result := `{"result":"sunny"}`
	finished := time.Now().UTC()
	if err := s.UpdateToolCallRecord(ctx, rec.ID, ToolCallUpdate{Status: &status, ResultJSON: &result, FinishedAt: &finished}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.UpdateToolCallRecord(ctx, rec.ID+100, ToolCallUpdate{Status: &status}); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	got, err := s.QueryToolCallRecords(ctx, ToolCallQuery{TraceID: "msg-1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].Status != "success" || got[0].ResultJSON != result {
		t.Fatalf("unexpected records: %#v", got)
	}
}

func TestChatRecordsQueryAndGet(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).UTC()
	for i, id := range []string{"a", "b", "c"} {
		rec := &ChatRecord{
			MessageID: id,
			SessionID: "s1",
			Mode:      "chat",
			Query:     "q" + id,
			Answer:    "ans" + id,
			Status:    "success",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.InsertChatRecord(ctx, rec); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	got, err := s.QueryChatRecords(ctx, ChatQuery{SessionID: "s1", Desc: true, Limit: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 || got[0].MessageID != "c" || got[1].MessageID != "b" {
		t.Fatalf("unexpected order: %#v", got)
	}

	rec, err := s.GetChatRecord(ctx, "b")
	if err != nil || rec.Answer != "ansb" {
		t.Fatalf("get: rec=%#v err=%v", rec, err)
	}
	if _, err := s.GetChatRecord(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := s.InsertChatRecord(ctx, &ChatRecord{MessageID: "a", Mode: "chat", Query: "dup", Status: "success"}); err == nil {
		t.Fatalf("expected unique violation for duplicate message id")
	}
}

func TestDeleteBeforeLimited(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour).UTC()
	for i := 0; i < 5; i++ {
		rec := &ChatRecord{MessageID: string(rune('a' + i)), Mode: "rag", Query: "q", Status: "success", CreatedAt: old}
		if err := s.InsertChatRecord(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
		tc := &ToolCallRecord{Tool: "t", Status: "success", CreatedAt: old}
		if err := s.InsertToolCallRecord(ctx, tc); err != nil {
			t.Fatalf("insert tool: %v", err)
		}
	}
	if err := s.InsertChatRecord(ctx, &ChatRecord{MessageID: "fresh", Mode: "rag", Query: "q", Status: "success"}); err != nil {
		t.Fatalf("insert fresh: %v", err)
	}

	cutoff := time.Now().Add(-24 * time.Hour).UTC()
	n, err := s.DeleteChatRecordsBeforeLimited(ctx, cutoff, 3)
	if err != nil || n != 3 {
		t.Fatalf("first batch: n=%d err=%v", n, err)
	}
	n, err = s.DeleteChatRecordsBeforeLimited(ctx, cutoff, 3)
	if err != nil || n != 2 {
		t.Fatalf("second batch: n=%d err=%v", n, err)
	}
	n, err = s.DeleteToolCallRecordsBeforeLimited(ctx, cutoff, 0)
	if err != nil || n != 5 {
		t.Fatalf("tool records: n=%d err=%v", n, err)
	}

	c, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if c.ChatRecords != 1 || c.ToolCallRecords != 0 {
		t.Fatalf("unexpected counts: %+v", c)
	}
}

func TestNilStorage(t *testing.T) {
	var s *Storage
	if err := s.Ping(context.Background()); err == nil {
		t.Fatalf("expected error from nil storage")
	}
	if _, err := s.Count(context.Background()); err == nil {
		t.Fatalf("expected error from nil storage")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close nil storage: %v", err)
	}
}

func TestNormalizeLimits(t *testing.T) {
	cases := []struct{ in, want int }{{0, defaultLimit}, {-1, defaultLimit}, {10, 10}, {maxLimit + 1, maxLimit}}
	for _, c := range cases {
		if got := normalizeLimit(c.in); got != c.want {
			t.Fatalf("normalizeLimit(%d)=%d want %d", c.in, got, c.want)
		}
	}
	if got := normalizeDeleteLimit(maxDeleteLimit + 10); got != maxDeleteLimit {
		t.Fatalf("normalizeDeleteLimit=%d", got)
	}
}

func TestSessionHistory(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	rows := []ChatRecord{
		{MessageID: "h1", SessionID: "s1", Query: "q1", Answer: "a1", Status: "success"},
		{MessageID: "h2", SessionID: "s1", Query: "q2", Status: "failed"},
		{MessageID: "h3", SessionID: "s1", Query: "q3", Answer: "a3", Status: "success"},
		{MessageID: "h4", SessionID: "s2", Query: "other", Answer: "x", Status: "success"},
		{MessageID: "h5", SessionID: "s1", Query: "q5", Answer: "a5", Status: "success"},
	}
	for i := range rows {
		rows[i].Mode = "chat"
		rows[i].CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.InsertChatRecord(ctx, &rows[i]); err != nil {
			t.Fatalf("insert %s: %v", rows[i].MessageID, err)
		}
	}

	msgs, err := s.SessionHistory(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var got []string
	for _, m := range msgs {
		got = append(got, string(m.Role)+":"+m.Content)
	}
	want := []string{
		string(schema.User) + ":q3", string(schema.Assistant) + ":a3",
		string(schema.User) + ":q5", string(schema.Assistant) + ":a5",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected history: %v", got)
	}

	if msgs, err := s.SessionHistory(ctx, "", 5); err != nil || msgs != nil {
		t.Fatalf("empty session: msgs=%v err=%v", msgs, err)
	}
	if msgs, err := s.SessionHistory(ctx, "s1", 0); err != nil || msgs != nil {
		t.Fatalf("zero turns: msgs=%v err=%v", msgs, err)
	}
}

func TestInMemoryStoragesAreIsolated(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, Config{InMemory: true})
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	defer a.Close()
	b, err := Open(ctx, Config{InMemory: true})
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer b.Close()

	if err := a.InsertChatRecord(ctx, &ChatRecord{MessageID: "only-a", Mode: "chat", Query: "q", Status: "success"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := b.GetChatRecord(ctx, "only-a"); !IsNotFound(err) {
		t.Fatalf("expected not found in second store, got %v", err)
	}
}

func TestDSNFromConfig(t *testing.T) {
	dsn, err := dsnFromConfig(Config{Path: "data/llmbot.db", EnableWAL: true, BusyTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	for _, want := range []string{"file:data/llmbot.db?", "busy_timeout%282000%29", "journal_mode%28WAL%29", "foreign_keys%281%29"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("dsn %q missing %q", dsn, want)
		}
	}
	if _, err := dsnFromConfig(Config{}); err == nil {
		t.Fatalf("expected error without path")
	}
}
