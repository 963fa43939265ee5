package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/lexfind/lexfind-backend/internal/app"
	"github.com/lexfind/lexfind-backend/internal/platform/envutil"
)

func main() {
	// Missing .env is fine in containers where the environment is injected.
	_ = godotenv.Load()

	a, err := app.New(context.Background())
	if err != nil {
		fmt.Printf("failed to start: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	addr := ":" + envutil.String("PORT", "8080")
	a.Log.Info("server listening", "addr", addr)
	if err := a.Run(addr); err != nil {
		a.Log.Error("server exited", "error", err)
		a.Close()
		os.Exit(1)
	}
}
