package drivers

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FairForge/vaultaire-recovery/internal/backup"
	"github.com/FairForge/vaultaire-recovery/internal/tenant"
)

const (
	archiveExt = ".tar"
	sealedExt  = ".sealed"
)

// ErrNoSealer is returned when a job asks for encryption but no sealer is set
var ErrNoSealer = errors.New("encryption requested but no sealer configured")

// Sealer encrypts archive streams. Implementations own their key handling.
type Sealer interface {
	Seal(dst io.Writer) (io.WriteCloser, error)
	Open(src io.Reader) (io.Reader, error)
}

// Opener builds the target for a destination
type Opener func(ctx context.Context, dest backup.Destination) (Target, error)

// ArchiveOptions configures an ArchiveExecutor
type ArchiveOptions struct {
	Sealer  Sealer
	Opener  Opener
	TempDir string
	Logger  *zap.Logger
	Clock   func() time.Time
}

// ArchiveExecutor backs up a job's scope as a tar archive uploaded to
// every destination
type ArchiveExecutor struct {
	sealer  Sealer
	open    Opener
	tempDir string
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	lastFull  map[string]time.Time
	lastStart map[string]time.Time
}

// NewArchiveExecutor creates an executor
func NewArchiveExecutor(opts ArchiveOptions) *ArchiveExecutor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &ArchiveExecutor{
		sealer:    opts.Sealer,
		open:      opts.Opener,
		tempDir:   opts.TempDir,
		logger:    logger.Named("archive"),
		now:       opts.Clock,
		lastFull:  make(map[string]time.Time),
		lastStart: make(map[string]time.Time),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.open == nil {
		e.open = func(ctx context.Context, dest backup.Destination) (Target, error) {
			return OpenTarget(ctx, dest, logger)
		}
	}
	return e
}

type archiveEntry struct {
	path string
	name string
	info fs.FileInfo
}

// ExecuteBackup archives, uploads and verifies one run. Failures that are
// properties of the run are reported on the Result; only a cancelled context
// is returned as an error.
func (e *ArchiveExecutor) ExecuteBackup(ctx context.Context, job *backup.Job, progress backup.ProgressFunc) (*backup.Result, error) {
	if progress == nil {
		progress = func(float64) {}
	}
	logger := e.logger.With(zap.String("job_id", job.ID), zap.String("tenant_id", job.TenantID))
	started := e.now()

	if job.Encryption.Enabled && e.sealer == nil {
		return failed(ErrNoSealer), nil
	}
	var comp *codec
	if job.Compression.Enabled {
		c, err := newCodec(job.Compression.Algorithm, job.Compression.Level)
		if err != nil {
			return failed(err), nil
		}
		comp = c
	}

	since := e.changedSince(job)
	entries, err := collect(job.Scope, since)
	if err != nil {
		return failed(err), nil
	}
	progress(5)

	tmp, err := os.CreateTemp(e.tempDir, "backup-*"+archiveExt)
	if err != nil {
		return failed(fmt.Errorf("create archive: %w", err)), nil
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	hasher := sha256.New()
	files, rawBytes, err := e.writeArchive(ctx, io.MultiWriter(tmp, hasher), entries, comp, job.Encryption.Enabled, func(done int) {
		progress(5 + 45*float64(done)/float64(max(len(entries), 1)))
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return failed(err), nil
	}
	checksum := hex.EncodeToString(hasher.Sum(nil))
	info, err := tmp.Stat()
	if err != nil {
		return failed(fmt.Errorf("stat archive: %w", err)), nil
	}
	logger.Debug("archive written",
		zap.Int64("files", files),
		zap.Int64("raw_bytes", rawBytes),
		zap.Int64("archive_bytes", info.Size()))

	key := archiveKey(job, uuid.New().String(), comp, job.Encryption.Enabled)
	result := &backup.Result{
		Success:    true,
		SizeBytes:  info.Size(),
		FileCount:  files,
		Compressed: comp != nil,
	}

	var verifyFrom Target
	var verifyKey string
	for i, dest := range job.Destinations {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		dr, target := e.upload(ctx, dest, key, tmp)
		result.Destinations = append(result.Destinations, dr)
		if !dr.Success {
			result.Success = false
			logger.Warn("upload failed", zap.String("destination", dest.Name), zap.String("error", dr.Error))
		} else if verifyFrom == nil {
			verifyFrom, verifyKey = target, dr.Location
		}
		progress(50 + 45*float64(i+1)/float64(len(job.Destinations)))
	}

	if !result.Success {
		var failedNames []string
		for _, dr := range result.Destinations {
			if !dr.Success {
				failedNames = append(failedNames, dr.Destination)
			}
		}
		result.Error = "upload failed: " + strings.Join(failedNames, ", ")
		return result, nil
	}

	result.Verification = e.verify(ctx, verifyFrom, verifyKey, checksum)
	if !result.Verification.Verified {
		result.Success = false
		result.Error = "verification failed: " + result.Verification.Error
		return result, nil
	}

	e.mu.Lock()
	e.lastStart[job.ID] = started
	if job.Type == backup.TypeFull {
		e.lastFull[job.ID] = started
	}
	e.mu.Unlock()

	progress(100)
	logger.Info("backup archived",
		zap.String("key", key),
		zap.Int64("size_bytes", result.SizeBytes),
		zap.Duration("elapsed", e.now().Sub(started)))
	return result, nil
}

// changedSince returns the modification cutoff for incremental and
// differential runs, or zero for a full archive
func (e *ArchiveExecutor) changedSince(job *backup.Job) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch job.Type {
	case backup.TypeIncremental:
		if t, ok := e.lastStart[job.ID]; ok {
			return t
		}
		if job.Statistics.LastSuccessAt != nil {
			return *job.Statistics.LastSuccessAt
		}
	case backup.TypeDifferential:
		return e.lastFull[job.ID]
	}
	return time.Time{}
}

func (e *ArchiveExecutor) upload(ctx context.Context, dest backup.Destination, key string, archive *os.File) (backup.DestinationResult, Target) {
	start := e.now()
	dr := backup.DestinationResult{Destination: dest.Name}
	finish := func(err error) backup.DestinationResult {
		dr.Duration = e.now().Sub(start)
		if err != nil {
			dr.Error = err.Error()
		}
		return dr
	}

	target, err := e.open(ctx, dest)
	if err != nil {
		return finish(err), nil
	}
	if _, err := archive.Seek(0, io.SeekStart); err != nil {
		return finish(fmt.Errorf("rewind archive: %w", err)), nil
	}
	location, err := target.Put(ctx, key, archive)
	if err != nil {
		return finish(err), nil
	}
	info, err := archive.Stat()
	if err == nil {
		dr.SizeBytes = info.Size()
	}
	dr.Success = true
	dr.Location = location
	return finish(nil), target
}

// verify downloads the stored archive and compares its checksum
func (e *ArchiveExecutor) verify(ctx context.Context, target Target, key, checksum string) *backup.VerificationResult {
	v := &backup.VerificationResult{Checksum: checksum, VerifiedAt: e.now()}
	rc, err := target.Get(ctx, key)
	if err != nil {
		v.Error = err.Error()
		return v
	}
	defer rc.Close()
	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		v.Error = fmt.Sprintf("read back %s: %v", key, err)
		return v
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != checksum {
		v.Error = fmt.Sprintf("checksum mismatch: stored %s, expected %s", got, checksum)
		return v
	}
	v.Verified = true
	return v
}

// writeArchive streams entries through tar, compression and sealing
func (e *ArchiveExecutor) writeArchive(ctx context.Context, dst io.Writer, entries []archiveEntry, comp *codec, seal bool, onFile func(int)) (int64, int64, error) {
	closers := make([]io.Closer, 0, 2)
	w := dst
	if seal {
		sw, err := e.sealer.Seal(w)
		if err != nil {
			return 0, 0, fmt.Errorf("seal archive: %w", err)
		}
		closers = append(closers, sw)
		w = sw
	}
	if comp != nil {
		cw, err := comp.writer(w)
		if err != nil {
			return 0, 0, err
		}
		closers = append(closers, cw)
		w = cw
	}

	tw := tar.NewWriter(w)
	var files, raw int64
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return files, raw, err
		}
		n, err := addEntry(tw, entry)
		if err != nil {
			return files, raw, err
		}
		if entry.info.Mode().IsRegular() {
			files++
			raw += n
		}
		onFile(i + 1)
	}
	if err := tw.Close(); err != nil {
		return files, raw, fmt.Errorf("close tar: %w", err)
	}
	// innermost writer closes first
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			return files, raw, fmt.Errorf("flush archive: %w", err)
		}
	}
	return files, raw, nil
}

func addEntry(tw *tar.Writer, entry archiveEntry) (int64, error) {
	hdr, err := tar.FileInfoHeader(entry.info, "")
	if err != nil {
		return 0, fmt.Errorf("header for %s: %w", entry.path, err)
	}
	hdr.Name = entry.name
	if entry.info.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return 0, fmt.Errorf("write header %s: %w", entry.name, err)
	}
	if !entry.info.Mode().IsRegular() {
		return 0, nil
	}
	f, err := os.Open(entry.path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", entry.path, err)
	}
	defer f.Close()
	n, err := io.Copy(tw, f)
	if err != nil {
		return n, fmt.Errorf("archive %s: %w", entry.path, err)
	}
	return n, nil
}

// collect walks the scope. Entry names are slash separated and rooted at
// each scope path's base name. Include and exclude patterns match base names.
func collect(scope backup.Scope, since time.Time) ([]archiveEntry, error) {
	if len(scope.Paths) == 0 {
		return nil, errors.New("scope has no paths")
	}
	var entries []archiveEntry
	for _, root := range scope.Paths {
		root = filepath.Clean(root)
		parent := filepath.Dir(root)
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			base := d.Name()
			if p != root && matchAny(scope.Exclude, base) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			if !info.IsDir() && !info.Mode().IsRegular() {
				return nil
			}
			if info.Mode().IsRegular() {
				if len(scope.Include) > 0 && !matchAny(scope.Include, base) {
					return nil
				}
				if !since.IsZero() && !info.ModTime().After(since) {
					return nil
				}
			}
			rel, err := filepath.Rel(parent, p)
			if err != nil {
				return err
			}
			entries = append(entries, archiveEntry{path: p, name: filepath.ToSlash(rel), info: info})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	return entries, nil
}

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// archiveKey names an archive inside the tenant's namespace. The extension
// records how the payload was encoded.
func archiveKey(job *backup.Job, archiveID string, comp *codec, sealed bool) string {
	name := archiveID + archiveExt
	if comp != nil {
		name += comp.extension
	}
	if sealed {
		name += sealedExt
	}
	return tenant.New(job.TenantID).NamespaceKey(path.Join("backups", job.ID, name))
}

func hasExt(key, ext string) bool {
	return strings.HasSuffix(strings.TrimSuffix(key, sealedExt), ext)
}

func failed(err error) *backup.Result {
	return &backup.Result{Success: false, Error: err.Error()}
}

// PurgeExecution deletes an expired execution's archive from every
// destination it reached
func (e *ArchiveExecutor) PurgeExecution(ctx context.Context, job *backup.Job, exec *backup.Execution) error {
	dests := make(map[string]backup.Destination, len(job.Destinations))
	for _, d := range job.Destinations {
		dests[d.Name] = d
	}
	var errs []error
	for _, dr := range exec.Destinations {
		if !dr.Success || dr.Location == "" {
			continue
		}
		dest, ok := dests[dr.Destination]
		if !ok {
			errs = append(errs, fmt.Errorf("destination %s no longer configured", dr.Destination))
			continue
		}
		target, err := e.open(ctx, dest)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := target.Delete(ctx, dr.Location); err != nil {
			errs = append(errs, err)
			continue
		}
		e.logger.Debug("purged archive",
			zap.String("execution_id", exec.ID),
			zap.String("destination", dr.Destination),
			zap.String("key", dr.Location))
	}
	return errors.Join(errs...)
}
