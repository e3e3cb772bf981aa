// Command xs-timeout runs commands at configured thresholds of X
// session idle time, and a "reset" command when activity resumes.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"xs-timeout/internal/cliopts"
	"xs-timeout/internal/config"
	"xs-timeout/internal/daemonize"
	"xs-timeout/internal/driver"
	"xs-timeout/internal/idlewatcher"
	"xs-timeout/internal/version"
)

var (
	debugFlag   bool
	versionFlag bool
)

var rootCmd = &cobra.Command{
	Use:           "xs-timeout [N:cmd | reset:cmd]...",
	Short:         "Run commands at thresholds of X session idle time",
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().BoolVar(&debugFlag, "debug", false, "enable verbose logging")
	// cobra's automatic --version flag (wired via Command.Version) has
	// no -v shorthand; register it ourselves instead.
	rootCmd.Flags().BoolVarP(&versionFlag, "version", "v", false, "print version and exit")
}

func newIdleWatcher() (driver.Waiter, error) {
	return idlewatcher.New()
}

func run(cmd *cobra.Command, args []string) error {
	if versionFlag {
		fmt.Println(version.String())
		return nil
	}

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "No timeouts found")
		cmd.Usage()
		os.Exit(1)
	}

	cfg := config.FromEnv()
	if debugFlag {
		cfg.SetDebug(true)
	}

	table, err := cliopts.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	watch, err := newIdleWatcher()
	if err != nil {
		return err
	}

	if cfg.IsDebug() {
		log.Printf("xs-timeout: watching %d threshold(s)", table.Len())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d := driver.New(table, watch, newIdleWatcher)
	return d.Run(ctx)
}

func main() {
	// Must run before any flag or command parsing: a re-exec'd fork
	// helper instance never reaches the CLI surface below.
	daemonize.RunForkHelper()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "xs-timeout:", err)
		os.Exit(1)
	}
}
