// Command dfstream enhances a noisy recording with a DeepFilterNet export.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/gleb-shnshn/DeepFilterNet/graph/native"
	_ "github.com/gleb-shnshn/DeepFilterNet/graph/onnx"
)

var (
	successExitCode = 0
	errorExitCode   = 1
)

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the root command and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := rootCmd(stdout, stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "dfstream failed: %v\n", err)
		return errorExitCode
	}
	return successExitCode
}

func rootCmd(stdout, stderr io.Writer) *cobra.Command {
	o := options{}
	cmd := &cobra.Command{
		Use:           "dfstream <base_dir>",
		Short:         "Stream noisy speech through DeepFilterNet frame by frame",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			o.baseDir = args[0]
			return o.run(cmd.Context(), stdout, stderr)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&o.input, "input", "", "noisy .wav or .mp3 file (default <base_dir>/noisy.wav)")
	fs.StringVar(&o.output, "output", "out/enh.wav", "enhanced wav file")
	fs.BoolVar(&o.postFilter, "pf", false, "enable mask post-filter")
	fs.BoolVar(&o.compensate, "compensate-delay", false, "align output with input")
	fs.StringVar(&o.blend, "alpha-blend", "none", "alpha blend mode: none|linear")
	fs.IntVar(&o.workers, "workers", 0, "channels processed in parallel (0 = all)")
	fs.StringVar(&o.metricsOut, "metrics-out", "", "write stage metrics in prometheus text format")
	fs.StringVar(&o.logLevel, "log-level", "", "log level: debug|info|warn|error")
	return cmd
}
