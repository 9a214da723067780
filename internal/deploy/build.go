package deploy

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/openbagtwo/fbsync/internal/remotefs"
	"github.com/openbagtwo/fbsync/pkg/logging"
	"github.com/openbagtwo/fbsync/pkg/models"
)

// BuildError reports a failed external packaging step. It always aborts
// before any remote interaction.
type BuildError struct {
	Cmd    string
	Output string
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build command %q failed: %v", e.Cmd, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Builder runs the external packaging command that produces the package
// directory tree to deploy.
type Builder struct {
	command []string
	workDir string
}

// NewBuilder creates a builder for the given command line. workDir may be
// empty to run in the current directory.
func NewBuilder(command []string, workDir string) *Builder {
	return &Builder{command: command, workDir: workDir}
}

// Build runs the packaging command and returns the artifact rooted at
// outputDir under the given package name.
func (b *Builder) Build(ctx context.Context, outputDir, pkgName string) (models.PackageArtifact, error) {
	log := logging.GetLogger("build")
	cmdline := strings.Join(b.command, " ")
	log.Info().Str("cmd", cmdline).Msg("running build")

	cmd := exec.CommandContext(ctx, b.command[0], b.command[1:]...)
	cmd.Dir = b.workDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return models.PackageArtifact{}, &BuildError{Cmd: cmdline, Output: string(out), Err: err}
	}

	if _, err := os.Stat(outputDir); err != nil {
		return models.PackageArtifact{}, &remotefs.LocalPathError{Path: outputDir, Err: err}
	}

	log.Debug().Str("output", outputDir).Msg("build produced package directory")
	return models.PackageArtifact{Name: pkgName, LocalPath: outputDir}, nil
}

// Artifact returns a pre-built package without invoking the build step,
// verifying the directory exists.
func Artifact(outputDir, pkgName string) (models.PackageArtifact, error) {
	if _, err := os.Stat(outputDir); err != nil {
		return models.PackageArtifact{}, &remotefs.LocalPathError{Path: outputDir, Err: err}
	}
	return models.PackageArtifact{Name: pkgName, LocalPath: outputDir}, nil
}
