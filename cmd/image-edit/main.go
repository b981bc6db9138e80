package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// CLI flags. Each overrides the matching environment setting when given.
var (
	modelFlag             string
	outputDirFlag         string
	s3BucketFlag          string
	s3PrefixFlag          string
	systemInstructionFlag string
	logLevelFlag          string
	metricsFlag           bool
	skipValidateFlag      bool
	dialogsFlag           bool
	portFlag              int
)

// rootCmd is the main Cobra command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "image-edit",
	Short: "Edit one image at a time with natural-language instructions",
	Long: `Image Edit loads a single image, sends it to a Gemini image model together
with an instruction such as "add a party hat", and shows the edited result.
The last five instructions are kept for reuse, and the edited image is only
saved after an explicit confirmation.

Running without a subcommand starts the interactive prompt.

Examples:
  image-edit
  image-edit repl --dialogs
  image-edit serve --port 9090
  image-edit mcp
  image-edit --model gemini-2.5-flash-image --output-dir ~/Pictures/edits`,
	RunE:          runRepl,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive prompt (default)",
	RunE:  runRepl,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the workflow as a local JSON API",
	RunE:  runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the workflow as MCP tools over stdio",
	RunE:  runMCP,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&modelFlag, "model", "m", "", "Gemini image model (default from GEMINI_IMAGE_MODEL)")
	pf.StringVarP(&outputDirFlag, "output-dir", "o", "", "Directory edited images are saved to")
	pf.StringVar(&s3BucketFlag, "s3-bucket", "", "Save edited images to this S3 bucket instead of a directory")
	pf.StringVar(&s3PrefixFlag, "s3-prefix", "", "Key prefix for --s3-bucket")
	pf.StringVar(&systemInstructionFlag, "system-instruction", "", "System instruction sent with every edit")
	pf.StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&metricsFlag, "metrics", false, "Write metrics events to stderr")
	pf.BoolVar(&skipValidateFlag, "skip-validate", false, "Skip the API key check at startup")

	rootCmd.Flags().BoolVar(&dialogsFlag, "dialogs", false, "Use desktop dialogs for picking, saving and notifications")
	replCmd.Flags().BoolVar(&dialogsFlag, "dialogs", false, "Use desktop dialogs for picking, saving and notifications")
	serveCmd.Flags().IntVar(&portFlag, "port", 8080, "Port to listen on")

	rootCmd.AddCommand(replCmd, serveCmd, mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
