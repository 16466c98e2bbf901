package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/fatih/color"
	"github.com/maxgio92/sigmigrate"
	"github.com/maxgio92/sigmigrate/internal/artifact"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	colorAddr     = color.New(color.FgHiBlue).SprintFunc()
	colorMnemonic = color.New(color.Bold).SprintFunc()
	colorClass    = color.New(color.FgYellow).SprintFunc()
)

func init() {
	rootCmd.AddCommand(sigCmd)

	sigCmd.Flags().Int("window-length", sigmigrate.DefaultWindowLength, "Number of bytes turned into a signature")
	sigCmd.Flags().BoolP("disass", "d", false, "Print the decoded window with the wildcard class of each instruction")
	viper.BindPFlag("sig.window-length", sigCmd.Flags().Lookup("window-length"))
	viper.BindPFlag("sig.disass", sigCmd.Flags().Lookup("disass"))
}

// sigCmd represents the sig command
var sigCmd = &cobra.Command{
	Use:   "sig <LIB> <OFFSET>",
	Short: "Print the wildcard signature at an offset",
	Example: heredoc.Doc(`
		# Print the signature of the function at 0x1A2B3C
		$ sigmigrate sig libgame.so 0x1A2B3C

		# Show which instructions were wildcarded
		$ sigmigrate sig libgame.so 0x1A2B3C --window-length 32 -d`),
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		setVerbosity()

		offset, err := parseOffsetArg(args[1])
		if err != nil {
			return err
		}

		lib, err := artifact.Load(args[0])
		if err != nil {
			return err
		}

		arch, err := sigmigrate.ParseArch(viper.GetString("migrate.arch"))
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("arch") {
			arch = lib.Arch(arch)
		}
		dec, err := sigmigrate.NewDecoder(arch)
		if err != nil {
			return err
		}

		windowLength := viper.GetInt("sig.window-length")
		sig, err := sigmigrate.BuildSignature(lib.Data, offset, windowLength, dec)
		if err != nil {
			return err
		}

		if viper.GetBool("sig.disass") {
			end := min(offset+uint64(windowLength), uint64(len(lib.Data)))
			insns, err := dec.Decode(lib.Data[offset:end], offset)
			if err != nil {
				return err
			}
			for _, insn := range insns {
				class := sigmigrate.Classify(insn, arch)
				line := fmt.Sprintf("%s: %-11x %-7s %s", colorAddr(fmt.Sprintf("%#08x", insn.Address)), insn.Bytes, colorMnemonic(insn.Mnemonic), insn.OperandText)
				if class != sigmigrate.WildcardNone {
					line += "\t; " + colorClass(string(class))
				}
				fmt.Println(line)
			}
			fmt.Println()
		}

		fmt.Println(sig)
		return nil
	},
}

func parseOffsetArg(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q: %w", s, err)
	}
	return v, nil
}
