// Command awgc compiles pulse-sequence DSL sources into AWG waveform and
// sequence-table artifacts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"awgc/pkg/dsl"
	"awgc/pkg/pipeline"
	"awgc/pkg/wfile"
)

var rootCmd = &cobra.Command{
	Use:   "awgc",
	Short: "Pulse-sequence compiler for arbitrary waveform generators",
	Long: "awgc compiles a pulse-sequence description into binary waveforms\n" +
		"and a sequence table bounded by the device's sample memory.",
	SilenceUsage: true,
}

var compileCmd = &cobra.Command{
	Use:   "compile <source.pls>",
	Short: "Compile a sequence description into device artifacts",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompile,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <artifact>",
	Short: "Decode a waveform or table artifact and print a summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	compileCmd.Flags().String("out", "", "output directory (default: source directory)")
	compileCmd.Flags().Bool("best-effort", false, "continue past failing scan points")
	compileCmd.Flags().Int("repeat", 0, "override the experiment repeat count")
	compileCmd.Flags().Bool("dry-run", false, "compile and report utilization without writing files")
	compileCmd.Flags().StringSlice("preset", nil, "preset YAML file to register (repeatable)")

	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	viper.SetEnvPrefix("AWGC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.BindPFlag("out", compileCmd.Flags().Lookup("out"))
	viper.BindPFlag("best_effort", compileCmd.Flags().Lookup("best-effort"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.SetDefault("log_level", "info")

	viper.SetConfigName(".awgc")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
	}
	// A missing config file is fine; any other read error surfaces later
	// through the defaults being used.
	_ = viper.ReadInConfig()

	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(inspectCmd)
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger()
}

func runCompile(cmd *cobra.Command, args []string) error {
	log := newLogger()
	sourcePath := args[0]

	source, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	registry := dsl.NewRegistry()
	presetPaths, _ := cmd.Flags().GetStringSlice("preset")
	for _, p := range presetPaths {
		if err := registry.LoadFile(p); err != nil {
			return err
		}
	}

	outDir := viper.GetString("out")
	if outDir == "" {
		outDir = filepath.Dir(sourcePath)
	}
	if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
		outDir = ""
	}
	repeat, _ := cmd.Flags().GetInt("repeat")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := pipeline.Compile(ctx, string(source), pipeline.Options{
		OutDir:     outDir,
		BestEffort: viper.GetBool("best_effort"),
		Repeat:     repeat,
		Registry:   registry,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d scan points, %s\n", result.Description.Name,
		len(result.Sequences), result.Report)
	for _, skip := range result.Skipped {
		fmt.Printf("skipped: %v\n", skip)
	}
	if result.Manifest != nil {
		fmt.Printf("wrote %d waveforms and %s\n",
			len(result.Manifest.Waveforms), result.Manifest.Table)
	}
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]
	switch filepath.Ext(path) {
	case ".awf":
		w, err := wfile.ReadWaveform(path)
		if err != nil {
			return err
		}
		gated := 0
		for _, g := range w.Gate {
			if g {
				gated++
			}
		}
		fmt.Printf("%s: v%d, %d samples, full scale %.3g V, %d gated\n",
			path, w.Version, len(w.Samples), w.FullScale, gated)
		return nil
	case ".seq":
		entries, err := wfile.ReadTable(path)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d entries\n", path, len(entries))
		for _, e := range entries {
			refs := make([]string, 0, len(e.Refs))
			for ch, ref := range e.Refs {
				if ref.Hold {
					refs = append(refs, fmt.Sprintf("ch%d hold %d", ch, ref.HoldSamples))
				} else {
					refs = append(refs, fmt.Sprintf("ch%d %s", ch, ref.File))
				}
			}
			fmt.Printf("  %3d: %s repeat=%d wait=%v %s\n",
				e.Line, strings.Join(refs, ", "), e.Repeat, e.WaitTrigger, e.Jump)
		}
		return nil
	default:
		return fmt.Errorf("unknown artifact type %q", filepath.Ext(path))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
