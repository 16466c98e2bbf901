package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/caarlos0/ctrlc"
	"github.com/maxgio92/sigmigrate"
	"github.com/maxgio92/sigmigrate/internal/artifact"
	"github.com/maxgio92/sigmigrate/internal/config"
	"github.com/maxgio92/sigmigrate/internal/dump"
	"github.com/maxgio92/sigmigrate/internal/report"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

func init() {
	rootCmd.AddCommand(migrateCmd)

	d := sigmigrate.DefaultConfig()
	migrateCmd.Flags().Int("window-length", d.WindowLength, "Number of old bytes turned into a signature")
	migrateCmd.Flags().Int("reference-length", d.ReferenceHexLength, "Number of raw bytes compared by the fuzzy matcher")
	migrateCmd.Flags().IntP("max-iterations", "m", d.MaxIterations, "Search attempts per offset")
	migrateCmd.Flags().Bool("first-byte", false, "Fuzzy candidates must start with the same byte")
	migrateCmd.Flags().Bool("first-n-bytes", false, "Fuzzy candidates must start with the same N bytes (see --first-n)")
	migrateCmd.Flags().Int("first-n", d.FirstN, "Number of leading bytes checked by --first-n-bytes")
	migrateCmd.Flags().Uint32("max-distance", 0, "Reject fuzzy candidates farther than this (0 disables)")
	migrateCmd.Flags().Bool("compact", false, "Write the compact I[n] = 0x... format")
	migrateCmd.Flags().StringP("format", "f", "", "Output format (verbose, compact, json, yaml)")
	migrateCmd.Flags().String("scanner", d.Scanner, "Exact match strategy (horspool, kmp, aho-corasick)")
	migrateCmd.Flags().IntP("workers", "j", 0, "Number of offsets resolved in parallel (0 uses every CPU)")
	migrateCmd.Flags().Bool("batch", false, "Resolve first attempts with a single Aho-Corasick pass")
	migrateCmd.Flags().Duration("timeout", 0, "Time budget per offset (0 disables)")
	migrateCmd.Flags().String("old-dump", "", "Metadata dump of the old build, enables type validation")
	migrateCmd.Flags().String("new-dump", "", "Metadata dump of the new build")
	migrateCmd.Flags().StringP("output", "o", "", "Write results to this file instead of stdout")
	migrateCmd.Flags().StringP("signatures", "s", "", "Also write every signature to this file")
	migrateCmd.Flags().Bool("no-progress", false, "Disable the progress bar")
	migrateCmd.MarkFlagsMutuallyExclusive("compact", "format")

	viper.BindPFlag("migrate.window-length", migrateCmd.Flags().Lookup("window-length"))
	viper.BindPFlag("migrate.reference-hex-length", migrateCmd.Flags().Lookup("reference-length"))
	viper.BindPFlag("migrate.max-iterations", migrateCmd.Flags().Lookup("max-iterations"))
	viper.BindPFlag("migrate.first-character-must-match", migrateCmd.Flags().Lookup("first-byte"))
	viper.BindPFlag("migrate.first-n-bytes-must-match", migrateCmd.Flags().Lookup("first-n-bytes"))
	viper.BindPFlag("migrate.first-n", migrateCmd.Flags().Lookup("first-n"))
	viper.BindPFlag("migrate.max-distance", migrateCmd.Flags().Lookup("max-distance"))
	viper.BindPFlag("migrate.compact", migrateCmd.Flags().Lookup("compact"))
	viper.BindPFlag("format", migrateCmd.Flags().Lookup("format"))
	viper.BindPFlag("migrate.scanner", migrateCmd.Flags().Lookup("scanner"))
	viper.BindPFlag("migrate.workers", migrateCmd.Flags().Lookup("workers"))
	viper.BindPFlag("migrate.batch", migrateCmd.Flags().Lookup("batch"))
	viper.BindPFlag("migrate.offset-timeout", migrateCmd.Flags().Lookup("timeout"))
	viper.BindPFlag("migrate.old-dump", migrateCmd.Flags().Lookup("old-dump"))
	viper.BindPFlag("migrate.new-dump", migrateCmd.Flags().Lookup("new-dump"))
	viper.BindPFlag("paths.output", migrateCmd.Flags().Lookup("output"))
	viper.BindPFlag("paths.signatures", migrateCmd.Flags().Lookup("signatures"))
	viper.BindPFlag("migrate.no-progress", migrateCmd.Flags().Lookup("no-progress"))
}

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate <OLD_LIB> <NEW_LIB> <OFFSETS>",
	Short: "Find the offsets of an old build in a new build",
	Example: heredoc.Doc(`
		# Migrate offsets.txt from an old to a new build
		$ sigmigrate migrate old/libgame.so new/libgame.so offsets.txt

		# Validate candidates against il2cpp dumps and write the compact format
		$ sigmigrate migrate old.so new.so offsets.txt --old-dump old/dump.cs --new-dump new/dump.cs --compact -o out.lua

		# Resolve many offsets at once and keep the signatures
		$ sigmigrate migrate old.so new.so offsets.txt --batch -s signatures.txt`),
	Args:          cobra.RangeArgs(0, 3),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		setVerbosity()

		for i, key := range []string{"paths.old", "paths.new", "paths.offsets"} {
			if i < len(args) {
				viper.Set(key, args[i])
			}
		}

		conf, err := config.LoadConfig()
		if err != nil {
			return err
		}
		if conf.Paths.Old == "" || conf.Paths.New == "" || conf.Paths.Offsets == "" {
			return fmt.Errorf("old library, new library and offsets file are required")
		}

		start := time.Now()

		records, err := readOffsets(conf.Paths.Offsets)
		if err != nil {
			return err
		}

		oldLib, err := artifact.Load(conf.Paths.Old)
		if err != nil {
			return err
		}
		newLib, err := artifact.Load(conf.Paths.New)
		if err != nil {
			return err
		}
		artifact.CheckPair(oldLib, newLib)
		artifact.CheckOffsets(oldLib, records)

		if !cmd.Flags().Changed("arch") && !viper.InConfig("migrate.arch") && os.Getenv("SIGMIGRATE_MIGRATE_ARCH") == "" {
			conf.Migrate.Arch = oldLib.Arch(conf.Migrate.Arch)
		}

		log.WithFields(log.Fields{
			"old":     fmt.Sprintf("%s (%s)", conf.Paths.Old, oldLib.Size()),
			"new":     fmt.Sprintf("%s (%s)", conf.Paths.New, newLib.Size()),
			"offsets": len(records),
			"arch":    conf.Migrate.Arch,
			"scanner": conf.Migrate.Scanner,
		}).Info("Migrating")

		opts := []sigmigrate.Option{sigmigrate.WithLogger(log.Log)}
		if conf.Migrate.OldDumpPath != "" {
			resolver, err := dump.NewResolver(dump.DefaultCacheSize)
			if err != nil {
				return err
			}
			opts = append(opts, sigmigrate.WithResolver(resolver))
		}

		var p *mpb.Progress
		if !viper.GetBool("migrate.no-progress") && !Verbose && term.IsTerminal(int(os.Stderr.Fd())) {
			p = mpb.New(mpb.WithWidth(80), mpb.WithOutput(os.Stderr))
			bar := p.AddBar(int64(len(records)),
				mpb.PrependDecorators(
					decor.CountersNoUnit("%d / %d", decor.WC{W: 12}),
					decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 4}), "✅ "),
				),
				mpb.AppendDecorators(decor.Percentage()),
			)
			opts = append(opts, sigmigrate.WithProgress(func(sigmigrate.MatchResult) {
				bar.Increment()
			}))
		}

		m, err := sigmigrate.NewMigrator(oldLib.Data, newLib.Data, conf.Migrate, opts...)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var results []sigmigrate.MatchResult
		if err := ctrlc.Default.Run(ctx, func() error {
			results = m.Run(ctx, records)
			return nil
		}); err != nil {
			if errors.As(err, &ctrlc.ErrorCtrlC{}) {
				log.Warn("Exiting...")
				cancel()
			}
			return err
		}
		if p != nil {
			p.Wait()
		}

		if err := writeResults(conf, results); err != nil {
			return err
		}
		if conf.Paths.Signatures != "" {
			if err := writeFile(conf.Paths.Signatures, report.SignatureWriter{}, results); err != nil {
				return err
			}
			log.Infof("Signatures written to %s", conf.Paths.Signatures)
		}

		report.Summary(os.Stderr, results)
		log.WithDuration(time.Since(start)).Debug("migration complete")

		return nil
	},
}

func readOffsets(path string) ([]sigmigrate.OffsetRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open offsets file: %w", err)
	}
	defer f.Close()

	records, err := sigmigrate.ParseOffsets(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

func writeResults(conf *config.Config, results []sigmigrate.MatchResult) error {
	w, err := report.New(conf.Format)
	if err != nil {
		return err
	}

	if conf.Paths.Output == "" {
		if v, ok := w.(*report.VerboseWriter); ok {
			v.Diff = term.IsTerminal(int(os.Stdout.Fd()))
		}
		return w.Write(os.Stdout, results)
	}

	if err := writeFile(conf.Paths.Output, w, results); err != nil {
		return err
	}
	log.Infof("Offsets written to %s", conf.Paths.Output)
	return nil
}

func writeFile(path string, w sigmigrate.ResultWriter, results []sigmigrate.MatchResult) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return w.Write(f, results)
}
