// Package remotefs exposes the device filesystem as three primitives
// (list, remove, put) executed as REPL snippets over an open session.
package remotefs

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/rs/zerolog"

	"github.com/openbagtwo/fbsync/internal/device"
	"github.com/openbagtwo/fbsync/pkg/logging"
	"github.com/openbagtwo/fbsync/pkg/models"
)

// LocalPathError reports a missing or unreadable local artifact or
// override file.
type LocalPathError struct {
	Path string
	Err  error
}

func (e *LocalPathError) Error() string {
	return fmt.Sprintf("local path %s: %v", e.Path, e.Err)
}

func (e *LocalPathError) Unwrap() error { return e.Err }

// Execer runs a code snippet on the device and returns its printed output.
// *device.Session satisfies it.
type Execer interface {
	Exec(ctx context.Context, code string) ([]byte, error)
}

// Board adapts an open session into remote filesystem operations.
type Board struct {
	session  Execer
	log      zerolog.Logger
	progress bool
}

// New creates a Board over the given session. Progress bars are off by
// default; the CLI switches them on for interactive runs.
func New(session Execer) *Board {
	return &Board{
		session: session,
		log:     logging.GetLogger("remotefs"),
	}
}

// WithProgress enables a progress bar during directory uploads.
func (b *Board) WithProgress(enabled bool) *Board {
	b.progress = enabled
	return b
}

// hexChunkSize is the number of raw bytes pushed per write snippet. Encoded
// payload is twice this; both fit the device input buffer comfortably.
const hexChunkSize = 192

const listSnippet = `import os
print('\n'.join(os.listdir('/')))`

// List returns the current top-level entries on the device.
func (b *Board) List(ctx context.Context) ([]models.RemoteEntry, error) {
	out, err := b.session.Exec(ctx, listSnippet)
	if err != nil {
		return nil, &device.DeviceIOError{Op: "list", Err: err}
	}
	var entries []models.RemoteEntry
	for _, line := range strings.Split(string(out), "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		entries = append(entries, models.RemoteEntry{Name: name})
	}
	b.log.Debug().Int("entries", len(entries)).Msg("listed device root")
	return entries, nil
}

// Remove deletes a named top-level entry, recursing into directories.
// A missing entry is not an error: the device state is unknown a priori,
// so the snippet swallows the lookup failure on the device itself. Any
// error that does come back is a genuine transport or protocol fault.
func (b *Board) Remove(ctx context.Context, name string) error {
	snippet := fmt.Sprintf(`import os
def _rm(p):
    try:
        st = os.stat(p)
    except OSError:
        return
    if st[0] & 0x4000:
        for e in os.listdir(p):
            _rm(p + '/' + e)
        os.rmdir(p)
    else:
        os.remove(p)
_rm(%s)`, pyStr("/"+strings.TrimPrefix(name, "/")))

	if _, err := b.session.Exec(ctx, snippet); err != nil {
		return &device.DeviceIOError{Op: "remove", Path: name, Err: err}
	}
	b.log.Debug().Str("name", name).Msg("removed remote entry")
	return nil
}

// Put uploads a single file, or recursively a directory tree, to the given
// remote path.
func (b *Board) Put(ctx context.Context, localPath, remoteName string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return &LocalPathError{Path: localPath, Err: err}
	}
	remotePath := "/" + strings.TrimPrefix(remoteName, "/")
	if info.IsDir() {
		return b.putDir(ctx, localPath, remotePath)
	}
	return b.putFile(ctx, localPath, remotePath)
}

func (b *Board) putDir(ctx context.Context, localDir, remoteDir string) error {
	type entry struct {
		local  string
		remote string
		size   int64
	}
	var files []entry
	var dirs []string
	var totalSize int64

	err := filepath.WalkDir(localDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		remote := remoteDir
		if rel != "." {
			remote = path.Join(remoteDir, filepath.ToSlash(rel))
		}
		if d.IsDir() {
			dirs = append(dirs, remote)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, entry{local: p, remote: remote, size: info.Size()})
		totalSize += info.Size()
		return nil
	})
	if err != nil {
		return &LocalPathError{Path: localDir, Err: err}
	}

	for _, dir := range dirs {
		if err := b.mkdir(ctx, dir); err != nil {
			return err
		}
	}

	var bar *pb.ProgressBar
	if b.progress {
		bar = pb.New64(totalSize)
		bar.Set(pb.Bytes, true)
		bar.Start()
		defer bar.Finish()
	}

	for _, f := range files {
		if err := b.putFile(ctx, f.local, f.remote); err != nil {
			return err
		}
		if bar != nil {
			bar.Add64(f.size)
		}
	}
	return nil
}

func (b *Board) mkdir(ctx context.Context, remoteDir string) error {
	snippet := fmt.Sprintf(`import os
try:
    os.mkdir(%s)
except OSError:
    pass`, pyStr(remoteDir))
	if _, err := b.session.Exec(ctx, snippet); err != nil {
		return &device.DeviceIOError{Op: "mkdir", Path: remoteDir, Err: err}
	}
	return nil
}

func (b *Board) putFile(ctx context.Context, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return &LocalPathError{Path: localPath, Err: err}
	}

	open := fmt.Sprintf(`try:
    import binascii
except ImportError:
    import ubinascii as binascii
_f = open(%s, 'wb')`, pyStr(remotePath))
	if _, err := b.session.Exec(ctx, open); err != nil {
		return &device.DeviceIOError{Op: "put", Path: remotePath, Err: err}
	}

	for len(data) > 0 {
		n := len(data)
		if n > hexChunkSize {
			n = hexChunkSize
		}
		write := fmt.Sprintf("_f.write(binascii.unhexlify(%s))", pyStr(hex.EncodeToString(data[:n])))
		if _, err := b.session.Exec(ctx, write); err != nil {
			return &device.DeviceIOError{Op: "put", Path: remotePath, Err: err}
		}
		data = data[n:]
	}

	if _, err := b.session.Exec(ctx, "_f.close()"); err != nil {
		return &device.DeviceIOError{Op: "put", Path: remotePath, Err: err}
	}
	b.log.Debug().Str("local", localPath).Str("remote", remotePath).Msg("uploaded file")
	return nil
}

// pyStr renders s as a single-quoted Python string literal.
func pyStr(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
