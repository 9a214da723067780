package models

// RemoteEntry is a top-level file or directory on the device filesystem.
// Existence is the only attribute the device reports; there is no size or
// hash metadata to diff against.
type RemoteEntry struct {
	Name string
}

// PackageArtifact is a built library bundle ready to be pushed. Name is
// also the directory name the package occupies on the device.
type PackageArtifact struct {
	Name      string
	LocalPath string
}

// OverrideSet is an ordered list of project files to push individually to
// the device root. The guard file is filtered at upload time, not here.
type OverrideSet struct {
	Project string
	Root    string
	Files   []string
}

// DeploymentTarget describes one complete deployment run.
type DeploymentTarget struct {
	Port      string
	Package   PackageArtifact
	Overrides *OverrideSet
}
