package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	studyroom "github.com/putto11262002/studyroom/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer stop()

	config, err := studyroom.LoadConfig()
	if err != nil {
		failed(1, "load config: %v\n", err)
	}

	app, err := studyroom.New(ctx, config)
	if err != nil {
		failed(1, "%v\n", err)
	}

	if err := app.Run(); err != nil {
		failed(1, "server error: %v\n", err)
	}
}

func failed(code int, s string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, s, args...)
	os.Exit(code)
}
