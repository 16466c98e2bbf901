package cmd

import (
	"fmt"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/maxgio92/sigmigrate"
	"github.com/maxgio92/sigmigrate/internal/artifact"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().String("scanner", sigmigrate.ScannerKMP, "Exact match strategy (horspool, kmp, aho-corasick)")
	scanCmd.Flags().Uint64("from", 0, "Start scanning at this offset")
	scanCmd.Flags().IntP("limit", "l", 0, "Print at most this many matches (0 prints all)")
	viper.BindPFlag("scan.scanner", scanCmd.Flags().Lookup("scanner"))
	viper.BindPFlag("scan.from", scanCmd.Flags().Lookup("from"))
	viper.BindPFlag("scan.limit", scanCmd.Flags().Lookup("limit"))
}

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan <LIB> <PATTERN>",
	Short: "Find every match of a wildcard pattern",
	Example: heredoc.Doc(`
		# Find a signature printed by 'sigmigrate sig'
		$ sigmigrate scan libgame.so "FD 7B BF A9 ?? ?? ?? 94"

		# Compare strategies
		$ sigmigrate scan libgame.so "F4 4F 01 A9" --scanner horspool`),
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		setVerbosity()

		sig, err := sigmigrate.ParseSignature(args[1])
		if err != nil {
			return err
		}
		scanner, err := sigmigrate.NewScanner(viper.GetString("scan.scanner"))
		if err != nil {
			return err
		}

		lib, err := artifact.Load(args[0])
		if err != nil {
			return err
		}

		start := time.Now()
		positions := sigmigrate.ScanFrom(scanner, lib.Data, sig, viper.GetUint64("scan.from"))
		log.WithFields(log.Fields{
			"scanner": scanner.Name(),
			"matches": len(positions),
		}).WithDuration(time.Since(start)).Debug("scan complete")

		if len(positions) == 0 {
			return fmt.Errorf("pattern not found")
		}

		limit := viper.GetInt("scan.limit")
		for i, pos := range positions {
			if limit > 0 && i >= limit {
				log.Infof("%d more matches", len(positions)-limit)
				break
			}
			fmt.Println(sigmigrate.FormatOffset(pos))
		}
		return nil
	},
}
