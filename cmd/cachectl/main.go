package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/rs/zerolog"

	"github.com/artifactkit/modelcache/cache"
	"github.com/artifactkit/modelcache/internal/config"
)

func main() {
	if err := runCLI(os.Args[1:]); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func runCLI(args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}

	switch args[0] {
	case "help", "--help", "-h":
		printUsage()
		return nil
	case "version", "--version", "-v":
		fmt.Println("cachectl v0.1.0")
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Keep cachectl quiet unless something is wrong.
	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	mc, err := cache.Open(cfg.CacheConfig(), logger)
	if err != nil {
		return err
	}
	defer func() { _ = mc.Close() }()

	ctx := context.Background()
	switch args[0] {
	case "stats":
		return printStats(mc)
	case "get":
		if len(args) < 2 {
			return fmt.Errorf("usage: cachectl get <id>")
		}
		payload, found, err := mc.Retrieve(ctx, args[1])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("not found: %s", args[1])
		}
		_, err = os.Stdout.Write(payload)
		return err
	case "put":
		if len(args) < 3 {
			return fmt.Errorf("usage: cachectl put <id> <file> [version]")
		}
		payload, err := os.ReadFile(args[2])
		if err != nil {
			return err
		}
		version := ""
		if len(args) > 3 {
			version = args[3]
		}
		return mc.Store(ctx, args[1], payload, version)
	case "has":
		if len(args) < 2 {
			return fmt.Errorf("usage: cachectl has <id>")
		}
		found, err := mc.Has(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Println(found)
		return nil
	case "rm":
		if len(args) < 2 {
			return fmt.Errorf("usage: cachectl rm <id>")
		}
		return mc.Remove(ctx, args[1])
	case "sweep":
		removed, err := mc.Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d expired entries\n", removed)
		return nil
	case "clear":
		return mc.Clear(ctx)
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printStats(mc *cache.ModelCache) error {
	s := mc.Stats()
	fmt.Printf("storage:    %s\n", mc.ActiveStorage())
	fmt.Printf("entries:    %d\n", s.EntryCount)
	fmt.Printf("total size: %d bytes\n", s.TotalSize)
	fmt.Printf("hit rate:   %.2f%%\n", s.HitRate()*100)
	fmt.Printf("miss rate:  %.2f%%\n", s.MissRate()*100)
	fmt.Printf("evictions:  %d\n", s.EvictionCount)
	return nil
}

func printUsage() {
	fmt.Println("Usage: cachectl <command>")
	fmt.Println("Commands:")
	fmt.Println("  stats               Show cache counters")
	fmt.Println("  get <id>            Write an artifact's bytes to stdout")
	fmt.Println("  put <id> <file> [v] Store a file under id with optional version")
	fmt.Println("  has <id>            Check presence (counts as a lookup)")
	fmt.Println("  rm <id>             Remove an artifact")
	fmt.Println("  sweep               Expire over-age entries now")
	fmt.Println("  clear               Remove everything and reset counters")
	fmt.Println("Environment:")
	fmt.Println("  MODELCACHE_DIR              Cache root (default ~/.modelcache)")
	fmt.Println("  MODELCACHE_STORAGE          memory | bolt | blob (default bolt)")
	fmt.Println("  MODELCACHE_MAX_SIZE_BYTES   Byte budget (default 500 MiB)")
	fmt.Println("  MODELCACHE_MAX_AGE          Age budget (default 168h)")
}
