package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/wwwzy/llmbot/internal/errx"
)

type ConsoleChatUI struct {
	In  io.Reader
	Out io.Writer
}

func (u *ConsoleChatUI) Run(ctx context.Context, backend ChatBackend, opts ChatOptions) error {
	in := u.In
	if in == nil {
		return fmt.Errorf("console ui: In is nil")
	}
	out := u.Out
	if out == nil {
		return fmt.Errorf("console ui: Out is nil")
	}

	reader := bufio.NewReader(in)
	session := NewSession(opts)

	fmt.Fprintln(out, "进入 llmbot 对话模式。输入 exit/quit 退出。")
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "已退出。")
			return nil
		default:
		}

		fmt.Fprint(out, "你: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(out, "\n已退出。")
				return nil
			}
			return fmt.Errorf("读取输入失败: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "exit", "quit":
			fmt.Fprintln(out, "已退出。")
			return nil
		}

		resp, err := backend.Handle(ctx, session.Request(line))
		if err != nil {
			// 配置错误是用户输入的问题，其余错误只影响本轮
			fmt.Fprintf(out, "助手: (请求失败 [%s]) %v\n\n", errx.KindOf(err), err)
			continue
		}
		session.Record(line, resp)

		answer := strings.TrimSpace(resp.Answer)
		if answer == "" {
			answer = "(无输出)"
		}
		fmt.Fprintf(out, "助手: %s\n", answer)
		if opts.ShowDetails {
			if d := Details(resp); d != "" {
				fmt.Fprintln(out, d)
			}
		}
		fmt.Fprintln(out)
	}
}
