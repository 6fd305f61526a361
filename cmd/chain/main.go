package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cot-backend/internal/chain"
	"cot-backend/internal/config"
	"cot-backend/internal/logging"
	"cot-backend/internal/middleware"
	"cot-backend/internal/services"
	"cot-backend/internal/worker"
)

type output struct {
	Index        int      `json:"index"`
	Prompt       string   `json:"prompt"`
	RunID        string   `json:"runId,omitempty"`
	FinalContent string   `json:"finalContent"`
	Summaries    []string `json:"summaries"`
	Turns        int      `json:"turns"`
	Reason       string   `json:"reason,omitempty"`
	Error        string   `json:"error,omitempty"`
	DurationMS   int64    `json:"durationMs"`
}

func main() {
	var (
		file        = flag.String("f", "", "read problems from file, one per line (- for stdin)")
		concurrency = flag.Int("concurrency", 2, "number of chains to run in parallel")
		depth       = flag.Int("depth", 0, "override CHAIN_DEPTH_LIMIT")
		depthMode   = flag.String("depth-mode", "", "override CHAIN_DEPTH_MODE (prompter|total)")
		mintToken   = flag.String("mint-token", "", "print a bearer token for this subject and exit")
		tokenTTL    = flag.Duration("token-ttl", 24*time.Hour, "lifetime of a minted token")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: chain [flags] [problem ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *mintToken != "" {
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			fmt.Fprintln(os.Stderr, "JWT_SECRET is not set")
			os.Exit(2)
		}
		token, err := middleware.NewJWTAuth(secret).GenerateToken(*mintToken, *tokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	prompts, err := collectPrompts(flag.Args(), *file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if len(prompts) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
		os.Exit(2)
	}
	logger := logging.New(cfg.LogLevel, cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := services.NewBackend(ctx, services.ProviderConfig{
		Provider:   cfg.LLMProvider,
		OutputMode: cfg.ChainOutputMode,
		Gemini: services.GeminiConfig{
			APIKey:             cfg.GeminiAPIKey,
			Model:              cfg.GeminiModel,
			Temperature:        cfg.GeminiTemperature,
			ConcurrentRequests: cfg.GeminiConcurrentReqs,
			MaxRetries:         cfg.GeminiMaxRetries,
			RetryBase:          cfg.GeminiRetryBase,
		},
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("model backend initialization failed")
	}
	defer backend.Close()

	opts := chain.Options{
		DepthLimit:       cfg.ChainDepthLimit,
		MaxTurns:         cfg.ChainMaxTurns,
		CollapseNewlines: cfg.ChainCollapseNewlines,
	}
	if *depth > 0 {
		opts.DepthLimit = *depth
		opts.MaxTurns = 0
	}
	mode := cfg.ChainDepthMode
	if *depthMode != "" {
		mode = *depthMode
	}
	if opts.DepthMode, err = chain.ParseDepthMode(mode); err != nil {
		logger.Fatal().Err(err).Msg("invalid depth mode")
	}

	orchestrator := chain.NewOrchestrator(backend.Caller, opts, nil, logger)
	results := worker.NewPool(orchestrator, *concurrency, logger).Run(ctx, prompts)

	enc := json.NewEncoder(os.Stdout)
	failed := 0
	for _, r := range results {
		out := output{Index: r.Index, Prompt: r.Prompt, Summaries: []string{}, DurationMS: r.Duration.Milliseconds()}
		if r.Err != nil {
			failed++
			out.Error = r.Err.Error()
		} else {
			out.RunID = r.Result.RunID
			out.FinalContent = r.Result.FinalAnswer
			out.Summaries = r.Result.Summaries
			out.Turns = r.Result.Turns
			out.Reason = string(r.Result.Reason)
		}
		if err := enc.Encode(out); err != nil {
			logger.Fatal().Err(err).Msg("failed to write result")
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}

// collectPrompts gathers problems from positional arguments and, when path is
// set, from a file (or stdin for "-"), skipping blank lines.
func collectPrompts(args []string, path string) ([]string, error) {
	var prompts []string
	for _, a := range args {
		if strings.TrimSpace(a) != "" {
			prompts = append(prompts, a)
		}
	}
	if path == "" {
		return prompts, nil
	}

	in := os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		in = f
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			prompts = append(prompts, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return prompts, nil
}
