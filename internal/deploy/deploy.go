// Package deploy executes the deterministic deployment sequence: report the
// device state, replace the installed package wholesale, then push project
// overrides. Remote contents cannot be diffed, so the package is removed
// before it is put back; no stale files from a previous version linger.
package deploy

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/openbagtwo/fbsync/internal/remotefs"
	"github.com/openbagtwo/fbsync/pkg/logging"
	"github.com/openbagtwo/fbsync/pkg/models"
)

// RemoteFS is the narrow device filesystem surface the deployer needs.
type RemoteFS interface {
	List(ctx context.Context) ([]models.RemoteEntry, error)
	Remove(ctx context.Context, name string) error
	Put(ctx context.Context, localPath, remoteName string) error
}

// GuardFunc reports whether a filename is reserved for package
// initialization and must not be pushed as an override.
type GuardFunc func(name string) bool

// DefaultGuard matches exactly the given reserved filename.
func DefaultGuard(guardName string) GuardFunc {
	return func(name string) bool { return name == guardName }
}

// Options configures a Deployer.
type Options struct {
	Guard  GuardFunc
	Verify bool
	Output io.Writer
}

// Deployer drives one deployment run against a remote filesystem.
type Deployer struct {
	remote RemoteFS
	guard  GuardFunc
	verify bool
	out    io.Writer
	log    zerolog.Logger
}

// NewDeployer creates a deployer. A nil guard never skips anything; a nil
// output discards the user-facing report.
func NewDeployer(remote RemoteFS, opts Options) *Deployer {
	guard := opts.Guard
	if guard == nil {
		guard = func(string) bool { return false }
	}
	out := opts.Output
	if out == nil {
		out = io.Discard
	}
	return &Deployer{
		remote: remote,
		guard:  guard,
		verify: opts.Verify,
		out:    out,
		log:    logging.GetLogger("deploy"),
	}
}

// RunReport summarizes a completed deployment run.
type RunReport struct {
	Entries     []models.RemoteEntry
	FilesPushed int64
	BytesPushed int64
	Duration    time.Duration
}

// Run executes the fixed pipeline. The initial listing is diagnostic, but
// a listing failure aborts before any mutation: a connection that cannot
// even list is not one to deploy over. Every later failure is fatal for
// the remaining steps. Between a successful remove and a failed put the
// device holds no package; that window is inherent to the transport and is
// surfaced, not masked.
func (d *Deployer) Run(ctx context.Context, target models.DeploymentTarget) (*RunReport, error) {
	start := time.Now()
	report := &RunReport{}

	entries, err := d.remote.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("device listing failed: %w", err)
	}
	report.Entries = entries
	fmt.Fprintf(d.out, "Device root (%d entries):\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(d.out, "  %s\n", e.Name)
	}

	pkg := target.Package
	d.log.Info().Str("package", pkg.Name).Msg("replacing installed package")
	if err := d.remote.Remove(ctx, pkg.Name); err != nil {
		return nil, fmt.Errorf("remove old package failed: %w", err)
	}
	if err := d.remote.Put(ctx, pkg.LocalPath, pkg.Name); err != nil {
		return nil, fmt.Errorf("push package failed: %w", err)
	}
	files, bytes, err := measureTree(pkg.LocalPath)
	if err == nil {
		report.FilesPushed += files
		report.BytesPushed += bytes
	}

	if target.Overrides != nil {
		for _, f := range target.Overrides.Files {
			name := filepath.Base(f)
			if d.guard(name) {
				d.log.Debug().Str("file", name).Msg("skipping guard file")
				continue
			}
			if err := d.remote.Put(ctx, f, name); err != nil {
				return nil, fmt.Errorf("push override %s failed: %w", name, err)
			}
			report.FilesPushed++
			if info, err := os.Stat(f); err == nil {
				report.BytesPushed += info.Size()
			}
			fmt.Fprintf(d.out, "Pushed override %s\n", name)
		}
	}

	if d.verify {
		if err := d.confirmInstalled(ctx, pkg.Name); err != nil {
			return nil, err
		}
	}

	report.Duration = time.Since(start)
	return report, nil
}

func (d *Deployer) confirmInstalled(ctx context.Context, pkgName string) error {
	entries, err := d.remote.List(ctx)
	if err != nil {
		return fmt.Errorf("verification listing failed: %w", err)
	}
	for _, e := range entries {
		if e.Name == pkgName {
			return nil
		}
	}
	return fmt.Errorf("verification failed: package %s not present after deployment", pkgName)
}

// LoadOverrides collects the override files for a project under root, in
// name order. Directories are skipped; the guard file stays in the set and
// is excluded at upload time.
func LoadOverrides(root, project string) (*models.OverrideSet, error) {
	dir := filepath.Join(root, project)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &remotefs.LocalPathError{Path: dir, Err: err}
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)

	return &models.OverrideSet{Project: project, Root: dir, Files: files}, nil
}

func measureTree(root string) (files, bytes int64, err error) {
	err = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		bytes += info.Size()
		return nil
	})
	return
}
