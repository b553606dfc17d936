// Command trellis is a thin CLI over the index engine: build the index,
// search it, and answer definition/reference queries.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	trellis "github.com/jward/trellis"
)

var (
	flagRoot      string
	flagLanguages []string
	flagSerial    bool
	flagVerbose   bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "trellis",
		Short:         "Local code-intelligence index",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagRoot, "root", "C", ".", "repository root")
	root.PersistentFlags().StringSliceVar(&flagLanguages, "languages", nil, "restrict fact extraction to these languages")
	root.PersistentFlags().BoolVar(&flagSerial, "serial", false, "disable parallel extraction")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(indexCmd(), searchCmd(), defCmd(), refsCmd())
	return root
}

func openEngine() (*trellis.Engine, error) {
	var opts []trellis.Option
	if len(flagLanguages) > 0 {
		opts = append(opts, trellis.WithLanguages(flagLanguages...))
	}
	if flagSerial {
		opts = append(opts, trellis.WithParallel(false))
	}
	if flagVerbose {
		log, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		opts = append(opts, trellis.WithLogger(log))
	}
	return trellis.Open(flagRoot, opts...)
}

func indexCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "index [paths...]",
		Short: "Build or update the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			ctx := context.Background()
			switch {
			case full:
				stats, err := engine.ReindexFull(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("reindexed %d files (%d added, %d modified, %d removed)\n",
					stats.FilesProcessed, stats.FilesAdded, stats.FilesModified, stats.FilesRemoved)
			case len(args) > 0:
				stats, err := engine.ReindexIncremental(ctx, args)
				if err != nil {
					return err
				}
				fmt.Printf("processed %d files (%d added, %d modified, %d removed)\n",
					stats.FilesProcessed, stats.FilesAdded, stats.FilesModified, stats.FilesRemoved)
			default:
				result, err := engine.Initialize(ctx, progressPrinter)
				if err != nil {
					return err
				}
				fmt.Printf("indexed %d files across %d contexts\n", result.FilesIndexed, result.ContextsDiscovered)
				for _, e := range result.Errors {
					fmt.Fprintln(os.Stderr, "warning:", e)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "truncate and rebuild from scratch")
	return cmd
}

func progressPrinter(processed, total int, _ map[string]int, phase string) {
	fmt.Fprintf(os.Stderr, "\r%-12s %d/%d", phase, processed, total)
	if processed == total {
		fmt.Fprintln(os.Stderr)
	}
}

func searchCmd() *cobra.Command {
	var (
		mode         string
		limit        int
		contextLines int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over the lexical index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			res, err := engine.Search(context.Background(), args[0], trellis.SearchOptions{
				Mode:            trellis.SearchMode(mode),
				FilterLanguages: flagLanguages,
				Limit:           limit,
				ContextLines:    contextLines,
			})
			if err != nil {
				return err
			}
			if res.FallbackReason != "" {
				fmt.Fprintln(os.Stderr, "note:", res.FallbackReason)
			}
			for _, r := range res.Results {
				fmt.Printf("%s:%d: %s\n", r.Path, r.Line, firstLine(r.Snippet))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "content", "search mode: content, symbols, path")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	cmd.Flags().IntVar(&contextLines, "context", 1, "snippet context lines")
	return cmd
}

func defCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "def <uid>",
		Short: "Show a definition by UID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			def, err := engine.Query().GetDef(args[0])
			if err != nil {
				return err
			}
			if def == nil {
				return fmt.Errorf("no definition with uid %s", args[0])
			}
			file, err := engine.Query().GetFile(def.FileID)
			if err != nil {
				return err
			}
			path := "?"
			if file != nil {
				path = file.Path
			}
			fmt.Printf("%s %s (%s) %s:%d\n", def.Kind, def.LexicalPath, def.DefUID, path, def.StartLine+1)
			return nil
		},
	}
}

func refsCmd() *cobra.Command {
	var tier string
	cmd := &cobra.Command{
		Use:   "refs <uid>",
		Short: "List references to a definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			refs, err := engine.Query().ListRefsByDefUID(args[0], tier)
			if err != nil {
				return err
			}
			for _, r := range refs {
				file, err := engine.Query().GetFile(r.FileID)
				if err != nil {
					return err
				}
				path := "?"
				if file != nil {
					path = file.Path
				}
				fmt.Printf("%s:%d:%d %s [%s]\n", path, r.StartLine+1, r.StartCol, r.TokenText, r.RefTier)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "", "filter by ref tier (proven, strong, anchored, unknown)")
	return cmd
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
