package drivers

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/vaultaire-recovery/internal/backup"
)

// ArchiveRestorer unpacks archives written by ArchiveExecutor
type ArchiveRestorer struct {
	sealer Sealer
	open   Opener
	logger *zap.Logger
	now    func() time.Time
}

// NewArchiveRestorer creates a restorer sharing the executor's options
func NewArchiveRestorer(opts ArchiveOptions) *ArchiveRestorer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &ArchiveRestorer{
		sealer: opts.Sealer,
		open:   opts.Opener,
		logger: logger.Named("restore"),
		now:    opts.Clock,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.open == nil {
		r.open = func(ctx context.Context, dest backup.Destination) (Target, error) {
			return OpenTarget(ctx, dest, logger)
		}
	}
	return r
}

// ExecuteRestore downloads the execution's archive from the first reachable
// destination and extracts it under the target path
func (r *ArchiveRestorer) ExecuteRestore(ctx context.Context, req *backup.RestoreRequest) (*backup.RestoreResult, error) {
	if req.Execution == nil {
		return nil, errors.New("restore request has no execution")
	}
	if req.TargetPath == "" {
		return nil, &backup.ValidationError{Field: "target_path", Reason: "required"}
	}
	exec := req.Execution
	result := &backup.RestoreResult{ExecutionID: exec.ID, StartedAt: r.now()}

	src, dest, key, err := r.source(ctx, req)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	result.Destination = dest

	logger := r.logger.With(
		zap.String("execution_id", exec.ID),
		zap.String("destination", dest),
		zap.String("target", req.TargetPath))

	hasher := sha256.New()
	stream := io.TeeReader(src, hasher)

	var payload io.Reader = stream
	if strings.HasSuffix(key, sealedExt) {
		if r.sealer == nil {
			return nil, ErrNoSealer
		}
		if payload, err = r.sealer.Open(payload); err != nil {
			return nil, fmt.Errorf("open sealed archive: %w", err)
		}
	}
	if comp := codecForKey(key); comp != nil {
		rc, err := comp.reader(payload)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		payload = rc
	}

	var filter []string
	if req.Type == backup.RestorePartial {
		filter = req.Paths
	}
	files, written, err := extract(ctx, payload, req.TargetPath, filter)
	result.RestoredFiles = files
	result.RestoredBytes = written
	if err != nil {
		return nil, err
	}

	// drain trailing padding so the checksum covers the whole object
	if _, err := io.Copy(io.Discard, stream); err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	if exec.Verification != nil && exec.Verification.Checksum != "" {
		if got := hex.EncodeToString(hasher.Sum(nil)); got != exec.Verification.Checksum {
			return nil, fmt.Errorf("checksum mismatch: downloaded %s, recorded %s", got, exec.Verification.Checksum)
		}
	}

	result.Success = true
	result.CompletedAt = r.now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	logger.Info("restore finished",
		zap.Int64("files", files),
		zap.Int64("bytes", written))
	return result, nil
}

// source opens the archive at the first destination that serves it
func (r *ArchiveRestorer) source(ctx context.Context, req *backup.RestoreRequest) (io.ReadCloser, string, string, error) {
	dests := make(map[string]backup.Destination, len(req.Destinations))
	for _, d := range req.Destinations {
		dests[d.Name] = d
	}
	var errs []error
	for _, dr := range req.Execution.Destinations {
		if !dr.Success || dr.Location == "" {
			continue
		}
		dest, ok := dests[dr.Destination]
		if !ok {
			continue
		}
		target, err := r.open(ctx, dest)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rc, err := target.Get(ctx, dr.Location)
		if err != nil {
			r.logger.Warn("destination unavailable for restore",
				zap.String("destination", dest.Name),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		return rc, dest.Name, dr.Location, nil
	}
	if len(errs) == 0 {
		return nil, "", "", fmt.Errorf("execution %s has no stored archive", req.Execution.ID)
	}
	return nil, "", "", fmt.Errorf("no destination could serve execution %s: %w", req.Execution.ID, errors.Join(errs...))
}

// extract unpacks a tar stream under root. Entries escaping root are
// rejected. A non-empty filter keeps entries equal to or below one of its
// paths.
func extract(ctx context.Context, src io.Reader, root string, filter []string) (int64, int64, error) {
	if err := os.MkdirAll(root, 0750); err != nil {
		return 0, 0, fmt.Errorf("create target: %w", err)
	}
	tr := tar.NewReader(src)
	var files, written int64
	for {
		if err := ctx.Err(); err != nil {
			return files, written, err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return files, written, nil
		}
		if err != nil {
			return files, written, fmt.Errorf("read archive: %w", err)
		}

		name := strings.TrimSuffix(hdr.Name, "/")
		if !filepath.IsLocal(filepath.FromSlash(name)) {
			return files, written, fmt.Errorf("archive entry %q escapes the restore target", hdr.Name)
		}
		if !selected(name, filter) {
			continue
		}
		dst := filepath.Join(root, filepath.FromSlash(name))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dst, 0750); err != nil {
				return files, written, fmt.Errorf("create %s: %w", name, err)
			}
		case tar.TypeReg:
			n, err := writeFile(dst, tr, hdr.FileInfo().Mode().Perm())
			written += n
			if err != nil {
				return files, written, fmt.Errorf("restore %s: %w", name, err)
			}
			files++
		}
	}
}

func writeFile(dst string, src io.Reader, perm os.FileMode) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0600)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func selected(name string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, p := range filter {
		p = strings.Trim(path.Clean("/"+filepath.ToSlash(p)), "/")
		if p == "" || name == p || strings.HasPrefix(name, p+"/") {
			return true
		}
	}
	return false
}
