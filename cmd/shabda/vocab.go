package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/shabda/internal/app"
	"github.com/MrWong99/shabda/internal/config"
	"github.com/MrWong99/shabda/internal/vocab"
	"github.com/MrWong99/shabda/internal/vocab/snapshot"
	"github.com/MrWong99/shabda/internal/vocab/snapshot/filestore"
	"github.com/MrWong99/shabda/internal/vocab/snapshot/redisstore"
	"github.com/MrWong99/shabda/pkg/trie"
)

// addSnapshotFlag registers --snapshot, which overrides the configured
// snapshot backend with a local file.
func addSnapshotFlag(cmd *cobra.Command) {
	cmd.Flags().String("snapshot", "", "snapshot file (default: the backend from the config file)")
}

// openSnapshot resolves the snapshot backend for a vocabulary command. The
// returned close function must be called when done.
func openSnapshot(cmd *cobra.Command, cfg *config.Config) (snapshot.Backend, func() error, error) {
	noop := func() error { return nil }
	if path, _ := cmd.Flags().GetString("snapshot"); path != "" {
		return filestore.New(path), noop, nil
	}

	s := cfg.Vocabulary.Snapshot
	switch s.Backend {
	case config.SnapshotFile:
		return filestore.New(s.Path), noop, nil
	case config.SnapshotRedis:
		var opts []redisstore.Option
		if s.Redis.Prefix != "" {
			opts = append(opts, redisstore.WithPrefix(s.Redis.Prefix))
		}
		rs := redisstore.New(s.Redis.Addr, s.Redis.Password, s.Redis.DB, opts...)
		return rs, rs.Close, nil
	default:
		return nil, noop, errors.New("no snapshot backend: pass --snapshot or configure vocabulary.snapshot")
	}
}

// loadVocabulary loads the snapshot named by the command flags.
func loadVocabulary(cmd *cobra.Command) (*trie.Trie, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	b, closeFn, err := openSnapshot(cmd, cfg)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return app.NewLoader(cfg.Vocabulary, nil).LoadSnapshot(cmd.Context(), b)
}

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build WORDLIST",
		Short: "Build a vocabulary snapshot from a word list",
		Long:  `Reads a newline-delimited word list (first field of each line), builds the trie and writes it to the snapshot backend.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			b, closeFn, err := openSnapshot(cmd, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			l := app.NewLoader(cfg.Vocabulary, nil)
			t, st, err := l.BuildFromFile(ctx, args[0])
			if err != nil {
				return err
			}
			if len(cfg.Vocabulary.Seed) > 0 {
				st.Added += l.MergeWords(ctx, t, "seed", cfg.Vocabulary.Seed).Added
			}
			if err := l.SaveSnapshot(ctx, b, t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "built %s: %d words, %d nodes (%d lines, %d rejected)\n",
				b.Name(), t.Len(), t.Nodes(), st.Lines, st.Rejected)
			return nil
		},
	}
	addSnapshotFlag(cmd)
	return cmd
}

func newMergeCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "merge [WORD...]",
		Short: "Merge words into the vocabulary snapshot",
		Long:  `Loads the snapshot (or starts empty when none exists), merges the given words and the words of --file, and saves the result.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && file == "" {
				return errors.New("nothing to merge: pass words or --file")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			b, closeFn, err := openSnapshot(cmd, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			l := app.NewLoader(cfg.Vocabulary, nil)
			t, err := l.LoadSnapshot(ctx, b)
			switch {
			case errors.Is(err, snapshot.ErrNotFound):
				t = l.NewTrie()
			case err != nil:
				return err
			}

			var st vocab.Stats
			if len(args) > 0 {
				st = l.MergeWords(ctx, t, "cli", args)
			}
			if file != "" {
				fst, err := l.MergeFile(ctx, t, file)
				if err != nil {
					return err
				}
				st.Added += fst.Added
				st.Rejected += fst.Rejected
			}
			if err := l.SaveSnapshot(ctx, b, t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "merged into %s: %d added, %d rejected, %d words\n",
				b.Name(), st.Added, st.Rejected, t.Len())
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "word list to merge")
	addSnapshotFlag(cmd)
	return cmd
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check WORD...",
		Short: "Report whether words are in the vocabulary",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := loadVocabulary(cmd)
			if err != nil {
				return err
			}
			for _, w := range args {
				state := "unknown"
				if t.IsKnown(w) {
					state = "known"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", w, state)
			}
			return nil
		},
	}
	addSnapshotFlag(cmd)
	return cmd
}

func newSuggestCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "suggest PREFIX",
		Short: "List vocabulary words starting with a prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("limit must be positive, got %d", limit)
			}
			t, err := loadVocabulary(cmd)
			if err != nil {
				return err
			}
			for _, w := range t.Suggest(args[0], limit) {
				fmt.Fprintln(cmd.OutOrStdout(), w)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of suggestions")
	addSnapshotFlag(cmd)
	return cmd
}

func newExtractCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "extract CORPUS",
		Short: "Write the distinct tokens of a corpus as a word list",
		Long:  `Collects the distinct whitespace-separated tokens of CORPUS ("-" for stdin) and writes them sorted, one per line, ready for "shabda build".`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			var out io.Writer = cmd.OutOrStdout()
			var outFile *os.File
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				outFile = f
				out = f
			}

			n, err := vocab.ExtractVocabulary(cmd.Context(), in, out)
			if outFile != nil {
				if cerr := outFile.Close(); err == nil {
					err = cerr
				}
			}
			if err != nil {
				return err
			}
			if outFile != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d words to %s\n", n, output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}
