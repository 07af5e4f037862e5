package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sargonas/meshcord"
)

func main() {
	flow, err := meshcord.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fwd, chunks, closeChunks := meshcord.NewChannelForwarder("fanout", 32, 1900)
	defer closeChunks()

	go fanoutWorker("relay", chunks)

	if err := flow.Run(ctx, meshcord.StreamOutForwarder(fwd)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}

func fanoutWorker(name string, chunks <-chan string) {
	for chunk := range chunks {
		fmt.Printf("[%s] %s: %s\n", name, time.Now().Format(time.RFC3339), chunk)
		// TODO: relay to a second chat service or log aggregator.
	}
}
