package main

import (
	"context"
	"fmt"
	"log"

	"github.com/dmitrijs2005/coachkeeper/internal/server"
	"github.com/dmitrijs2005/coachkeeper/internal/server/config"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	if cfg.MintOwner != "" {
		token, err := server.MintToken(cfg, cfg.MintOwner)
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
		fmt.Println(token)
		return
	}

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)
}
