package main

import (
	"context"
	"log"
	"os"

	"github.com/yattee/server/internal/app"
)

func main() {
	ctx := context.Background()
	args := os.Args[1:]
	if len(args) == 0 {
		args = []string{"serve"}
	}
	if err := app.Run(ctx, args); err != nil {
		log.Fatal(err)
	}
}
