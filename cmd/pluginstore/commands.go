package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/dshills/pluginstore/internal/app"
	"github.com/dshills/pluginstore/internal/config"
	"github.com/dshills/pluginstore/internal/history"
	"github.com/dshills/pluginstore/internal/notify"
	"github.com/dshills/pluginstore/internal/release"
)

// DefaultDownloadBase is where published archives live.
const DefaultDownloadBase = "https://github.com/ziyi127/TimeNest-Store/releases/download"

var configFlag = cli.StringFlag{
	Name:   "config, c",
	Usage:  "path to the TOML configuration file",
	EnvVar: config.EnvPrefix + "CONFIG",
}

var runFlags = []cli.Flag{
	configFlag,
	cli.StringFlag{
		Name:  "log-level",
		Usage: "override the configured log level (debug, info, warn, error)",
	},
	cli.DurationFlag{
		Name:  "duration, d",
		Usage: "stop after this long (default: run until interrupted)",
	},
	cli.BoolFlag{
		Name:  "autostart",
		Usage: "start the pomodoro countdown once plugins are active",
	},
	cli.BoolTFlag{
		Name:  "watch",
		Usage: "reload the configuration file when it changes (default: true)",
	},
}

var releaseFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "plugins, p",
		Value: "plugins",
		Usage: "directory holding one sub-directory per plugin",
	},
	cli.StringFlag{
		Name:  "releases, o",
		Value: "releases",
		Usage: "directory the archives are written to",
	},
	cli.StringFlag{
		Name:  "index, i",
		Value: "plugins.json",
		Usage: "store index to update; skipped when missing",
	},
	cli.StringFlag{
		Name:  "base",
		Value: DefaultDownloadBase,
		Usage: "download URL prefix written to the index",
	},
	cli.StringFlag{
		Name:  "checksum",
		Value: string(release.ChecksumSHA256),
		Usage: "archive digest: sha256 or blake3",
	},
}

var historyFlags = []cli.Flag{
	configFlag,
	cli.IntFlag{
		Name:  "limit, n",
		Value: 20,
		Usage: "number of recent phases to list (0 lists all)",
	},
	cli.DurationFlag{
		Name:  "since",
		Value: 7 * 24 * time.Hour,
		Usage: "summarize phases finished within this window",
	},
	cli.DurationFlag{
		Name:  "prune",
		Usage: "delete phases older than this before listing",
	},
}

func newApp(out io.Writer) *cli.App {
	a := cli.NewApp()
	a.Name = "pluginstore"
	a.HelpName = "pluginstore"
	a.Usage = "host and package desktop widget plugins"
	a.Version = fmt.Sprintf("%s (%s, %s)", version, commit, date)
	a.Writer = out
	a.ErrWriter = os.Stderr
	a.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "load every plugin and run until interrupted",
			Flags:  runFlags,
			Action: runCommand,
		},
		{
			Name:   "info",
			Usage:  "print every plugin descriptor as JSON",
			Flags:  []cli.Flag{configFlag},
			Action: infoCommand,
		},
		{
			Name:   "release",
			Usage:  "package plugins into versioned archives and update the index",
			Flags:  releaseFlags,
			Action: releaseCommand,
		},
		{
			Name:   "history",
			Usage:  "list finished pomodoro phases",
			Flags:  historyFlags,
			Action: historyCommand,
		},
	}
	return a
}

func execute(args []string, out io.Writer) error {
	return newApp(out).Run(args)
}

func runCommand(c *cli.Context) error {
	application, err := app.New(app.Options{
		ConfigPath: c.String("config"),
		LogLevel:   c.String("log-level"),
		Autostart:  c.Bool("autostart"),
		Watch:      c.BoolT("watch"),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := c.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printNotifications(c.App.Writer, application.Notifications())
	}()
	if err = application.Run(ctx); err != nil {
		_ = application.Close()
	}
	<-printed
	return err
}

// printNotifications writes each notification until the channel closes.
func printNotifications(w io.Writer, ch <-chan notify.Notification) {
	for n := range ch {
		fmt.Fprintf(w, "%s [%s] %s: %s\n", n.Time.Local().Format("15:04:05"), n.Source, n.Title, n.Message)
	}
}

func infoCommand(c *cli.Context) error {
	application, err := app.New(app.Options{
		ConfigPath: c.String("config"),
		LogLevel:   "error",
	})
	if err != nil {
		return err
	}
	defer application.Close()

	descs, err := application.Manager().Descriptors(context.Background())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(descs)
}

func releaseCommand(c *cli.Context) error {
	checksum, err := release.ParseChecksum(c.String("checksum"))
	if err != nil {
		return err
	}
	out := c.App.Writer
	fs := afero.NewOsFs()
	packager := release.NewPackager(fs, release.WithChecksum(checksum))

	releases, buildErr := packager.BuildAll(c.String("plugins"), c.String("releases"))
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, r := range releases {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Filename, humanize.Bytes(uint64(r.Size)), r.Checksum)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "built %d archives\n", len(releases))

	index := c.String("index")
	if ok, _ := afero.Exists(fs, index); ok && len(releases) > 0 {
		updated, err := release.UpdateIndex(fs, index, releases, c.String("base"))
		if err != nil {
			return errors.Join(buildErr, err)
		}
		fmt.Fprintf(out, "updated %d entries in %s\n", len(updated), index)
	}
	return buildErr
}

func historyCommand(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	store, err := history.Open(filepath.Join(cfg.DataDir, history.FileName))
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now()
	out := c.App.Writer

	if d := c.Duration("prune"); d > 0 {
		n, err := store.Prune(ctx, now.Add(-d))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "pruned %d phases\n", n)
	}

	entries, err := store.Recent(ctx, c.Int("limit"))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t-> %s\tcycle %d\t%s\n",
			e.CompletedAt.Local().Format("2006-01-02 15:04"), e.Phase, e.Next, e.CycleCount, e.Duration)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	since := c.Duration("since")
	totals, err := store.Since(ctx, now.Add(-since))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nsince %s:\n", humanize.Time(now.Add(-since)))
	for _, t := range totals {
		fmt.Fprintf(out, "  %-12s %3d  %s\n", t.Phase, t.Count, t.Duration)
	}
	return nil
}
