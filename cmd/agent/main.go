package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/Divas-Gupta30/market-agent/internal/cache"
	"github.com/Divas-Gupta30/market-agent/internal/graph"
	"github.com/Divas-Gupta30/market-agent/internal/ingestion"
	"github.com/Divas-Gupta30/market-agent/internal/processing"
	"github.com/Divas-Gupta30/market-agent/internal/server"
	"github.com/Divas-Gupta30/market-agent/internal/storage"
)

func main() {
	root := &cli.Command{
		Name:  "agent",
		Usage: "Question answering assistant for the Tunisian stock market",
		Commands: []*cli.Command{
			indexCmd(),
			queryCmd(),
			serveCmd(),
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func indexCmd() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Embed local documents into the vector store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Value: "./data", Usage: "folder to index"},
			&cli.StringFlag{Name: "source-tag", Usage: "tag every chunk with this source (news, stock_data); inferred from folder names when empty"},
			&cli.IntFlag{Name: "chunk-size", Value: processing.DefaultChunkSize, Usage: "chunk size in characters"},
			&cli.IntFlag{Name: "chunk-overlap", Value: processing.DefaultChunkOverlap, Usage: "overlap between chunks in characters"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			if err := storage.EnsureSchema(ctx, a.pool, a.cfg.Database.Table, a.cfg.Database.EmbeddingDim); err != nil {
				return err
			}
			embedder, err := processing.NewEmbedder(ctx, a.cfg.AI, a.cfg.Database.EmbeddingDim, "RETRIEVAL_DOCUMENT")
			if err != nil {
				return err
			}

			ix := &ingestion.Indexer{
				Embedder:     embedder,
				Store:        a.store,
				Log:          a.log,
				ChunkSize:    int(cmd.Int("chunk-size")),
				ChunkOverlap: int(cmd.Int("chunk-overlap")),
				SourceTag:    cmd.String("source-tag"),
			}

			path := cmd.String("path")
			a.log.Info("starting indexing", zap.String("path", path))
			rep, err := ix.IndexDir(ctx, path)
			if err != nil {
				return err
			}

			color.Green("Indexing complete: %d files, %d chunks, %d skipped", rep.Files, rep.Chunks, rep.Skipped)
			if rep.NoText > 0 {
				color.Yellow("  %d files had no text layer (scanned PDFs need OCR first)", rep.NoText)
			}
			for _, tag := range []string{processing.SourceNews, processing.SourceStockData} {
				n, err := a.store.Count(ctx, tag)
				if err != nil {
					return err
				}
				fmt.Printf("  %-10s %d chunks\n", tag, n)
			}
			return nil
		},
	}
}

func queryCmd() *cli.Command {
	return &cli.Command{
		Name:      "query",
		Usage:     "Ask one question",
		ArgsUsage: "<question>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "q", Usage: "question text (alternative to the argument)"},
			&cli.BoolFlag{Name: "stream", Usage: "print the answer as it is generated"},
			&cli.BoolFlag{Name: "sources", Usage: "list the documents the answer is based on"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			question := cmd.String("q")
			if question == "" {
				question = strings.Join(cmd.Args().Slice(), " ")
			}
			if strings.TrimSpace(question) == "" {
				return fmt.Errorf("a question is required")
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}

			var res *graph.Result
			if cmd.Bool("stream") {
				res, err = streamAnswer(ctx, engine, question)
			} else {
				res, err = engine.Invoke(ctx, question)
			}
			if err != nil {
				return err
			}
			printResult(res, !cmd.Bool("stream"), cmd.Bool("sources"))
			if res.FinalState == graph.StateFailed {
				return res.Err
			}
			return nil
		},
	}
}

func streamAnswer(ctx context.Context, engine *graph.Engine, question string) (*graph.Result, error) {
	events, err := engine.Stream(ctx, question)
	if err != nil {
		return nil, err
	}

	faint := color.New(color.Faint)
	var res *graph.Result
	for ev := range events {
		switch ev.Kind {
		case graph.EventState:
			if ev.State == graph.StateRewrite {
				faint.Println("\n(retrying with a rewritten question)")
			}
		case graph.EventToken:
			fmt.Print(ev.Token)
		case graph.EventFinal:
			res = ev.Result
		}
	}
	fmt.Println()
	return res, nil
}

func printResult(res *graph.Result, withAnswer, withSources bool) {
	if withAnswer {
		color.New(color.Bold).Print("Answer: ")
		fmt.Println(res.Generation)
	}

	tag := color.New(color.FgCyan)
	tag.Printf("[%s] topic=%s attempts=%d\n", res.FinalState, res.Topic, res.Attempts)
	if res.LowConfidence {
		color.Yellow("Low confidence: the answer did not pass quality checks after every retry.")
	}
	if res.Err != nil {
		color.Red("Error: %v", res.Err)
	}

	if withSources {
		for i, d := range res.Documents {
			fmt.Printf("  %d. [%s %.2f] %s\n", i+1, d.SourceTag, d.SimilarityScore, d.Link)
		}
	}
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			engine, err := a.engine(ctx)
			if err != nil {
				return err
			}

			opts := []server.Option{
				server.WithHealthCheck("database", a.pool.Ping),
			}
			if c := cache.New(ctx, a.cfg.Cache, a.log); c != nil {
				opts = append(opts, server.WithCache(c, a.fingerprint()))
				if rc, ok := c.(*cache.RedisCache); ok {
					defer rc.Close()
					opts = append(opts, server.WithHealthCheck("redis", rc.Ping))
				}
			}

			srv := server.New(engine, a.log, opts...)
			start := time.Now()
			err = srv.Run(ctx, ":"+a.cfg.App.Port)
			a.log.Info("server stopped", zap.Duration("uptime", time.Since(start)))
			return err
		},
	}
}
