package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sargonas/meshcord/pkg/meshcord"
)

func main() {
	flow, err := meshcord.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	callback := func(ctx context.Context, chunk string) error {
		fmt.Printf("%s %s\n", time.Now().Format(time.RFC3339), chunk)
		return nil
	}

	if err := flow.Run(ctx, meshcord.StreamOutCallback("stdout", 1900, callback)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}
