package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/coolmanlume/aubrowser/internal/models"
	"github.com/coolmanlume/aubrowser/internal/render"
	"github.com/coolmanlume/aubrowser/internal/worker"
)

// captureWorkerCmd is the isolated, killable render attempt the supervisor
// spawns: one component in, one preview JPEG out. Positional argv, a
// machine-readable stderr token per failure and a distinct exit code per
// failure kind are the contract; humans never run this directly.
var captureWorkerCmd = &cobra.Command{
	Use:    "capture-worker TYPE SUBTYPE MANUFACTURER OUTPUT_PATH MAX_WIDTH",
	Hidden: true,
	Short:  "Run one isolated capture attempt (internal)",
	Args:   cobra.ExactArgs(5),
	Run:    runCaptureWorker,
}

func init() {
	rootCmd.AddCommand(captureWorkerCmd)
}

func runCaptureWorker(cmd *cobra.Command, args []string) {
	// Workers log to stderr like everything else, but only failure tokens
	// may appear there for the supervisor; silence everything below Error.
	log.SetLevel(log.ErrorLevel)

	typeCode, err1 := strconv.ParseUint(args[0], 10, 32)
	subtypeCode, err2 := strconv.ParseUint(args[1], 10, 32)
	manufacturerCode, err3 := strconv.ParseUint(args[2], 10, 32)
	maxWidth, err4 := strconv.Atoi(args[4])
	outputPath := args[3]
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || outputPath == "" || maxWidth < 1 {
		fmt.Fprintln(os.Stderr, "capture-worker: bad arguments")
		os.Exit(models.ExitBadArgs)
	}

	w := worker.New(render.NewBundleHost(globalConfig.PluginDirs))
	result, failure := w.Capture(context.Background(), worker.Request{
		Descriptor: models.ComponentDescriptor{
			Type:         uint32(typeCode),
			Subtype:      uint32(subtypeCode),
			Manufacturer: uint32(manufacturerCode),
		},
		OutputPath: outputPath,
		MaxWidth:   maxWidth,
	})
	if failure != nil {
		if failure.Token != "" {
			fmt.Fprintln(os.Stderr, failure.Token)
		} else if failure.Err != nil {
			fmt.Fprintln(os.Stderr, failure.Err)
		}
		os.Exit(failure.ExitCode)
	}

	fmt.Printf("%dx%d\n", result.Width, result.Height)
}
