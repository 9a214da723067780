package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/openbagtwo/fbsync/internal/config"
	"github.com/openbagtwo/fbsync/internal/db"
	"github.com/openbagtwo/fbsync/internal/deploy"
	"github.com/openbagtwo/fbsync/internal/device"
	"github.com/openbagtwo/fbsync/internal/remotefs"
	"github.com/openbagtwo/fbsync/pkg/logging"
	"github.com/openbagtwo/fbsync/pkg/models"
	"github.com/openbagtwo/fbsync/pkg/utils"
	"github.com/openbagtwo/fbsync/pkg/version"
)

var verbosity int

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "print the version",
	}

	app := &cli.App{
		Name:                 "fbsync",
		Usage:                "Deploy a built CircuitPython library to a board over serial",
		Version:              version.Version,
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Increase diagnostic output (repeatable)",
				Count:   &verbosity,
			},
		},
		Before: func(c *cli.Context) error {
			logging.Setup(verbosity)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("Version:    %s\n", version.Version)
					fmt.Printf("Git commit: %s\n", version.GitCommit)
					fmt.Printf("Built:      %s\n", version.BuildTime)
					return nil
				},
			},
			{
				Name:      "deploy",
				Usage:     "Build the package and push it to the board, replacing the installed copy",
				ArgsUsage: "[project]",
				Flags: []cli.Flag{
					portFlag(),
					&cli.StringFlag{
						Name:  "project",
						Usage: "Project whose files are pushed to the device root after the package",
					},
					&cli.BoolFlag{
						Name:  "skip-build",
						Usage: "Deploy the existing build output without rebuilding",
					},
					&cli.BoolFlag{
						Name:  "verify",
						Usage: "Re-list the device after upload and confirm the package is present",
					},
				},
				Action: runDeploy,
			},
			{
				Name:   "ls",
				Usage:  "List the top-level entries on the device",
				Flags:  []cli.Flag{portFlag()},
				Action: runList,
			},
			{
				Name:      "rm",
				Usage:     "Remove a top-level entry from the device (succeeds if absent)",
				ArgsUsage: "<name>",
				Flags:     []cli.Flag{portFlag()},
				Action:    runRemove,
			},
			{
				Name:      "put",
				Usage:     "Upload a local file or directory to the device",
				ArgsUsage: "<local> [remote]",
				Flags:     []cli.Flag{portFlag()},
				Action:    runPut,
			},
			{
				Name:  "history",
				Usage: "Show recent deployment runs",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of runs to show",
						Value: 10,
					},
				},
				Action: runHistory,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func portFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "port",
		Aliases: []string{"p"},
		Usage:   "Serial port of the device (defaults from config, then platform)",
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %v", err)
	}
	return cfg, nil
}

func openSession(cfg *config.Config, port string) (*device.Session, error) {
	if port == "" {
		port = cfg.Device.Port
	}
	return device.Open(port, device.Options{
		BaudRate: cfg.Device.BaudRate,
		Timeout:  cfg.Device.Timeout(),
	})
}

func runDeploy(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	project := c.String("project")
	if project == "" && c.Args().Len() > 0 {
		project = c.Args().First()
	}

	// Build (or reuse) the package before touching the device: a failed
	// build must abort with no remote interaction.
	var artifact models.PackageArtifact
	if c.Bool("skip-build") {
		artifact, err = deploy.Artifact(cfg.Build.OutputDir, cfg.Build.Package)
	} else {
		builder := deploy.NewBuilder(cfg.Build.Command, "")
		artifact, err = builder.Build(c.Context, cfg.Build.OutputDir, cfg.Build.Package)
	}
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	var overrides *models.OverrideSet
	if project != "" {
		overrides, err = deploy.LoadOverrides(cfg.Projects.Root, project)
		if err != nil {
			return fmt.Errorf("failed to load project %s: %w", project, err)
		}
	}

	target := models.DeploymentTarget{
		Port:      c.String("port"),
		Package:   artifact,
		Overrides: overrides,
	}
	if target.Port == "" {
		target.Port = cfg.Device.Port
	}

	session, err := openSession(cfg, target.Port)
	if err != nil {
		return err
	}
	defer session.Close()

	board := remotefs.New(session).WithProgress(true)
	deployer := deploy.NewDeployer(board, deploy.Options{
		Guard:  deploy.DefaultGuard(cfg.Projects.Guard),
		Verify: c.Bool("verify"),
		Output: os.Stdout,
	})

	started := time.Now()
	report, runErr := deployer.Run(c.Context, target)

	recordRun(cfg, target, project, started, report, runErr)

	if runErr != nil {
		return runErr
	}

	fmt.Printf("Deployed %s to %s: %d files (%s) in %s\n",
		artifact.Name,
		target.Port,
		report.FilesPushed,
		utils.FormatSize(report.BytesPushed),
		utils.FormatDuration(report.Duration),
	)
	return nil
}

// recordRun journals the outcome. The journal is best-effort: failures are
// logged and never affect the run's exit status.
func recordRun(cfg *config.Config, target models.DeploymentTarget, project string, started time.Time, report *deploy.RunReport, runErr error) {
	if cfg.History.Disabled {
		return
	}

	rec := &models.RunRecord{
		Port:      target.Port,
		Package:   target.Package.Name,
		Project:   project,
		Status:    models.RunStatusOK,
		StartedAt: started,
		Duration:  time.Since(started),
	}
	if report != nil {
		rec.FilesPushed = report.FilesPushed
		rec.BytesPushed = report.BytesPushed
	}
	if runErr != nil {
		rec.Status = models.RunStatusFailed
		rec.Error = runErr.Error()
	}

	journal, err := db.New(cfg.History.Path)
	if err != nil {
		logger := logging.GetLogger("history")
		logger.Warn().Err(err).Msg("could not open journal")
		return
	}
	defer journal.Close()

	if err := journal.RecordRun(rec); err != nil {
		logger := logging.GetLogger("history")
		logger.Warn().Err(err).Msg("could not record run")
	}
}

func runList(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	session, err := openSession(cfg, c.String("port"))
	if err != nil {
		return err
	}
	defer session.Close()

	entries, err := remotefs.New(session).List(c.Context)
	if err != nil {
		return fmt.Errorf("device listing failed: %w", err)
	}

	for _, e := range entries {
		fmt.Println(e.Name)
	}
	return nil
}

func runRemove(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one entry name")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	session, err := openSession(cfg, c.String("port"))
	if err != nil {
		return err
	}
	defer session.Close()

	name := c.Args().First()
	if err := remotefs.New(session).Remove(c.Context, name); err != nil {
		return fmt.Errorf("remove failed: %w", err)
	}
	fmt.Printf("Removed %s\n", name)
	return nil
}

func runPut(c *cli.Context) error {
	if c.Args().Len() < 1 || c.Args().Len() > 2 {
		return fmt.Errorf("expected <local> [remote]")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	local := c.Args().Get(0)
	remote := c.Args().Get(1)
	if remote == "" {
		remote = filepath.Base(local)
	}

	session, err := openSession(cfg, c.String("port"))
	if err != nil {
		return err
	}
	defer session.Close()

	if err := remotefs.New(session).WithProgress(true).Put(c.Context, local, remote); err != nil {
		return fmt.Errorf("put failed: %w", err)
	}
	fmt.Printf("Uploaded %s to %s\n", local, remote)
	return nil
}

func runHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.History.Disabled {
		return fmt.Errorf("history is disabled in configuration")
	}

	journal, err := db.New(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to open journal: %v", err)
	}
	defer journal.Close()

	runs, err := journal.RecentRuns(c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to read journal: %v", err)
	}
	if len(runs) == 0 {
		fmt.Println("No deployment runs recorded")
		return nil
	}

	for _, r := range runs {
		line := fmt.Sprintf("%s  %-6s  %s -> %s",
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Status,
			r.Package,
			r.Port,
		)
		if r.Project != "" {
			line += fmt.Sprintf("  (project %s)", r.Project)
		}
		if r.Status == models.RunStatusOK {
			line += fmt.Sprintf("  %d files, %s, %s",
				r.FilesPushed,
				utils.FormatSize(r.BytesPushed),
				utils.FormatDuration(r.Duration),
			)
		} else {
			line += "  " + r.Error
		}
		fmt.Println(line)
	}

	stats, err := journal.GetStats()
	if err != nil {
		return fmt.Errorf("failed to get stats: %v", err)
	}
	fmt.Printf("\nTotal Runs: %d (OK: %d, Failed: %d)\n", stats.TotalRuns, stats.OKRuns, stats.FailedRuns)
	fmt.Printf("Total Pushed: %d files (%s)\n", stats.TotalFiles, utils.FormatSize(stats.TotalBytes))
	return nil
}
