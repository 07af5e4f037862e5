package main

import (
	"bufio"
	"context"
	_ "embed"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sargonas/meshcord"
)

//go:embed assets/banner_color.ansi
var bannerColor string

//go:embed assets/banner_plain.txt
var bannerPlain string

func main() {
	fmt.Print(selectBanner())
	fmt.Println()
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "nodes":
		err = nodesCommand(os.Args[2:])
	case "reset-nodes":
		err = resetNodesCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("meshcord %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to bridge configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := meshcord.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := meshcord.LoadConfig(*cfgPath); err != nil {
		return err
	}
	fmt.Printf("config %s looks good ✅\n", *cfgPath)
	return nil
}

func nodesCommand(args []string) error {
	fs := flag.NewFlagSet("nodes", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to bridge configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := meshcord.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, closer, err := meshcord.OpenRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	nodes, err := reg.ListNodes(ctx)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		fmt.Println("no nodes recorded yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tSHORT\tLONG\tMODEL\tLAST SEEN")
	for _, n := range nodes {
		last := "never"
		if !n.LastSeen.IsZero() {
			last = n.LastSeen.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			n.NodeID.Hex(), n.ShortName, n.LongName, n.HwModel, last)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if c, ok := reg.(interface {
		Counts(context.Context) (int64, int64, error)
	}); ok {
		if processed, _, err := c.Counts(ctx); err == nil {
			fmt.Printf("%d nodes; %d processed messages in retention\n", len(nodes), processed)
		}
	}
	return nil
}

func resetNodesCommand(args []string) error {
	fs := flag.NewFlagSet("reset-nodes", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to bridge configuration file")
	yes := fs.Bool("yes", false, "Confirm dropping every node record")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*yes {
		return fmt.Errorf("refusing to drop node records without -yes")
	}

	cfg, err := meshcord.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, closer, err := meshcord.OpenRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := reg.Reset(ctx); err != nil {
		return err
	}
	fmt.Println("node records dropped")
	return nil
}

func selectBanner() string {
	if os.Getenv("NO_COLOR") != "" {
		return bannerPlain
	}
	return bannerColor
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	targets := map[string]float64{
		"meshcord_packets_received_total":   0,
		"meshcord_messages_forwarded_total": 0,
		"meshcord_messages_duplicate_total": 0,
		"meshcord_queue_length":             0,
		"meshcord_deadletter_total":         0,
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for key := range targets {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %f", &value); err == nil {
					targets[key] = value
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("[%s] received=%.0f forwarded=%.0f duplicates=%.0f queue=%.0f deadletter=%.0f\n",
		time.Now().Format(time.RFC3339),
		targets["meshcord_packets_received_total"],
		targets["meshcord_messages_forwarded_total"],
		targets["meshcord_messages_duplicate_total"],
		targets["meshcord_queue_length"],
		targets["meshcord_deadletter_total"],
	)
	return nil
}

func printUsage() {
	fmt.Printf(`Meshcord CLI

Usage:
  meshcord <command> [flags]

Commands:
  run          Start the bridge using the provided config
  validate     Load and validate a config file without starting the bridge
  nodes        List the mesh nodes recorded in the registry
  reset-nodes  Drop every node record from the registry
  stats        Poll the Prometheus metrics endpoint and print live counters

Examples:
  meshcord run -config ./data/config.yaml
  meshcord validate -config ./data/config.yaml
  meshcord nodes -config ./data/config.yaml
  meshcord stats -url http://localhost:9100/metrics -interval 1s
`)
}
