package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/wwwzy/llmbot/internal/cli"
)

func main() {
	// .env 不存在时忽略
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
