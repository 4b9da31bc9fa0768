package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"multimodal-rag/internal/chromemdb"
	"multimodal-rag/internal/config"
	"multimodal-rag/internal/helper"
	"multimodal-rag/internal/pipeline"
	"multimodal-rag/internal/progress"
	"multimodal-rag/internal/server"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func ingestCMD(opts *rootOptions) *cobra.Command {
	var dumpText string
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Extract documents and add them to the vector index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			p, err := pipeline.FromConfig(cfg, progress.NewBar(os.Stderr))
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			for _, path := range args {
				report, err := p.Ingest(ctx, path)
				if err != nil {
					return err
				}
				printIngest(report)
				if dumpText != "" {
					out := dumpText
					if len(args) > 1 {
						out = filepath.Join(filepath.Dir(dumpText), report.Source+"."+filepath.Base(dumpText))
					}
					if err := pipeline.WriteCombinedText(report, out); err != nil {
						return err
					}
					log.Info().Str("file", out).Msg("Wrote combined text")
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dumpText, "dump-text", "", "also write the combined extracted text to this file")
	return cmd
}

func uploadCMD(opts *rootOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Copy a document into the uploads folder and ingest it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			p, err := pipeline.FromConfig(cfg, progress.NewBar(os.Stderr))
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()
			if name == "" {
				name = filepath.Base(args[0])
			}

			ctx, cancel := signalContext()
			defer cancel()
			report, err := p.Upload(ctx, name, f)
			if err != nil {
				return err
			}
			printIngest(report)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name to store the document under")
	return cmd
}

func askCMD(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			p, err := pipeline.FromConfig(cfg, progress.NewLog(log.Logger))
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			res, err := p.Ask(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if asJSON {
				helper.PrettyPrint(res)
				return nil
			}
			printAnswer(res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func serveCMD(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			p, err := pipeline.FromConfig(cfg, progress.NewLog(log.Logger))
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return server.New(p, cfg.Storage.ImagesDir).Run(ctx, cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func configCMD(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			masked := *cfg
			masked.LLM.Key = mask(masked.LLM.Key)
			masked.EmbedLLM.Key = mask(masked.EmbedLLM.Key)
			masked.RAG.EncryptionKey = mask(masked.RAG.EncryptionKey)
			out, err := yaml.Marshal(&masked)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			fmt.Print(string(out))
			for _, v := range cfg.Validate() {
				color.Yellow("warning: %s", v.Error())
			}
			return nil
		},
	}
	cmd.AddCommand(configInitCMD(opts))
	return cmd
}

func configInitCMD(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file filled with defaults to --config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if helper.FileExists(opts.configPath) && !force {
				return fmt.Errorf("config %s already exists, use --force to overwrite", opts.configPath)
			}
			if err := helper.CreateFolder(filepath.Dir(opts.configPath)); err != nil {
				return err
			}
			// Secrets stay in the environment.
			cfg := config.Default()
			cfg.LLM.Key, cfg.EmbedLLM.Key, cfg.RAG.EncryptionKey = "", "", ""
			if err := cfg.Save(opts.configPath); err != nil {
				return err
			}
			color.Green("Wrote %s", opts.configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func indexCMD(opts *rootOptions) *cobra.Command {
	index := &cobra.Command{
		Use:   "index",
		Short: "Inspect the vector index",
	}
	index.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show vector index metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			stats, err := chromemdb.ReadStats(cfg.Storage.IndexDir())
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", color.CyanString("Index:"), cfg.Storage.IndexDir())
			fmt.Printf("%s %d\n", color.CyanString("Entries:"), stats.Count)
			fmt.Printf("%s %s (%d dimensions)\n", color.CyanString("Embedding model:"), stats.EmbeddingModel, stats.Dimension)
			fmt.Printf("%s compressed=%t encrypted=%t\n", color.CyanString("Storage:"), stats.Compressed, stats.Encrypted)
			fmt.Printf("%s %s\n", color.CyanString("Updated:"), stats.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
			return nil
		},
	})
	return index
}

func printIngest(r *pipeline.IngestReport) {
	color.Green("Ingested %s", r.Source)
	fmt.Printf("  pages: %d  images: %d  chunks: %d\n", r.Pages, r.Images, r.Chunks)
	if r.Index != nil {
		fmt.Printf("  index entries: %d -> %d\n", r.Index.Before, r.Index.After)
	}
	for _, f := range r.ImageFailures {
		color.Yellow("  skipped: %s", f)
	}
}

func printAnswer(res *pipeline.AskResult) {
	header := color.New(color.FgCyan, color.Bold)

	header.Println("Question:")
	fmt.Printf("%s\n\n", res.Question)

	header.Println("Answer:")
	fmt.Printf("%s\n\n", res.Answer)

	if res.PageNumber >= 0 {
		header.Println("Source:")
		fmt.Printf("%s, page %d\n\n", res.SourceDocument, res.PageNumber+1)
	}
	if len(res.ImagePaths) > 0 {
		header.Println("Images:")
		for _, p := range res.ImagePaths {
			fmt.Println(p)
		}
		fmt.Println()
	}
	if res.LogPath != "" {
		log.Info().Str("file", res.LogPath).Msg("Saved response")
	}
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}
