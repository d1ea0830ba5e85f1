package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"hermeshub/internal/config"
	"hermeshub/internal/logging"
	"hermeshub/internal/progress"
	"hermeshub/internal/protocol"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Run executes the client command in cfg and prints its result to stdout
func Run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.L().Info("Starting client", zap.String("server", cfg.ServerAddress), zap.String("command", cfg.Command))
	return run(ctx, New(cfg), cfg, os.Stdout)
}

func run(ctx context.Context, c *Client, cfg *config.Config, out io.Writer) error {
	switch cfg.Command {
	case config.CommandPing:
		ok, err := c.Ping(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s is up: %v\n", cfg.ServerAddress, ok)
		return nil

	case config.CommandList:
		records, err := c.List(ctx)
		if err != nil {
			return err
		}
		printListing(out, records)
		return nil

	case config.CommandDelete:
		if err := c.Delete(ctx, cfg.Args[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted %s\n", cfg.Args[0])
		return nil

	case config.CommandUpload:
		path := cfg.Args[0]
		stats, reporter := startReporter(cfg, path, out)
		err := c.Upload(ctx, path, cfg.ChunkCount, stats.Track)
		reporter.Stop()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Uploaded %s (%s)\n", path, humanize.IBytes(uint64(stats.GetTransferred())))
		return nil

	case config.CommandDownload:
		name, dest := cfg.Args[0], ""
		if len(cfg.Args) > 1 {
			dest = cfg.Args[1]
		}
		stats, reporter := startReporter(cfg, name, out)
		err := c.Download(ctx, name, dest, cfg.ChunkCount, stats.Track)
		reporter.Stop()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Downloaded %s (%s)\n", name, humanize.IBytes(uint64(stats.GetTransferred())))
		return nil
	}

	return fmt.Errorf("unsupported client command %q", cfg.Command)
}

func startReporter(cfg *config.Config, name string, out io.Writer) (*progress.Stats, *progress.Reporter) {
	stats := progress.NewStats(name, cfg.ChunkCount)
	var console io.Writer
	if cfg.ShowProgress {
		console = out
	}
	reporter := progress.NewReporter(stats, console)
	reporter.Start()
	return stats, reporter
}

func printListing(out io.Writer, records []protocol.FileRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No files stored")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tCREATED")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, humanize.IBytes(r.Size), humanize.Time(r.CreatedAt))
	}
	tw.Flush()
}
