package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/dgaz9/screenly/internal/adapter"
	"github.com/dgaz9/screenly/internal/domain"
	"github.com/dgaz9/screenly/internal/logger"
	"github.com/dgaz9/screenly/internal/media"
	"github.com/dgaz9/screenly/internal/store"
)

const (
	snapshotEntry  = "catalog.json"
	manifestEntry  = "manifest.json"
	mediaEntryRoot = "media"

	backupPrefix = "screenly-backup-"
	backupSuffix = ".tar.gz"

	snapshotVersion = 1
)

// snapshotAsset is the archived form of one catalog record
type snapshotAsset struct {
	AssetID      string               `json:"asset_id"`
	Name         string               `json:"name"`
	URI          string               `json:"uri"`
	Mimetype     string               `json:"mimetype"`
	Duration     int64                `json:"duration"`
	StartDate    *time.Time           `json:"start_date"`
	EndDate      *time.Time           `json:"end_date"`
	IsEnabled    bool                 `json:"is_enabled"`
	IsProcessing bool                 `json:"is_processing"`
	NoCache      bool                 `json:"nocache"`
	PlayOrder    int64                `json:"play_order"`
	Metadata     domain.AssetMetadata `json:"metadata"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// snapshot is the catalog.json payload
type snapshot struct {
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	MediaRoot string          `json:"media_root"`
	Assets    []snapshotAsset `json:"assets"`
}

// manifest is the manifest.json payload: one SHA-256 per bundled entry,
// keyed by the entry's path inside the archive
type manifest struct {
	Version int               `json:"version"`
	Files   map[string]string `json:"files"`
}

// Archiver bundles the whole catalog into portable archives and swaps a
// bundle back in. Backups are self-contained: records plus every owned
// media file, with checksums over all of it.
type Archiver interface {
	// CreateBackup writes a new archive into the backup directory and
	// returns its filename
	CreateBackup(ctx context.Context) (string, error)

	// Recover replaces the catalog and the managed media directory with the
	// archive's content. Previous state survives any failure.
	Recover(ctx context.Context, archivePath string) error

	// ArchivePath resolves a backup filename produced by CreateBackup to its
	// absolute path for retrieval
	ArchivePath(filename string) (string, error)
}

type archiver struct {
	store     store.Store
	dir       *media.Dir
	backupDir string
	fs        adapter.FileSystem
	json      adapter.JSON
	jcs       adapter.JCS
	clock     adapter.Clock
}

// New creates an Archiver writing archives into backupDir
func New(
	st store.Store,
	dir *media.Dir,
	backupDir string,
	fs adapter.FileSystem,
	jsonAdapter adapter.JSON,
	jcsAdapter adapter.JCS,
	clock adapter.Clock,
) (Archiver, error) {
	if backupDir == "" {
		return nil, fmt.Errorf("backup directory not configured")
	}

	abs, err := filepath.Abs(backupDir)
	if err != nil {
		return nil, fmt.Errorf("resolving backup directory %s: %w", backupDir, err)
	}
	if err := fs.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup directory %s: %w", abs, err)
	}

	return &archiver{
		store:     st,
		dir:       dir,
		backupDir: abs,
		fs:        fs,
		json:      jsonAdapter,
		jcs:       jcsAdapter,
		clock:     clock,
	}, nil
}

// CreateBackup writes a new archive into the backup directory.
// The snapshot and manifest are JCS-canonical, so two backups of the same
// catalog differ only in their recorded creation time.
func (a *archiver) CreateBackup(ctx context.Context) (string, error) {
	assets, err := a.store.ListAssets(ctx)
	if err != nil {
		return "", err
	}

	snapshotBytes, err := a.canonicalSnapshot(assets)
	if err != nil {
		return "", err
	}

	mediaFiles, err := a.listMediaFiles()
	if err != nil {
		return "", err
	}

	m := manifest{Version: snapshotVersion, Files: map[string]string{
		snapshotEntry: sha256Hex(snapshotBytes),
	}}
	for _, name := range mediaFiles {
		sum, err := a.sha256File(a.dir.OwnedPath(name))
		if err != nil {
			return "", err
		}
		m.Files[path.Join(mediaEntryRoot, name)] = sum
	}
	manifestBytes, err := a.canonicalManifest(m)
	if err != nil {
		return "", err
	}

	filename := backupPrefix + a.clock.Now().UTC().Format("20060102-150405") + backupSuffix
	dst := filepath.Join(a.backupDir, filename)
	tmp := dst + ".part"

	if err := a.writeArchive(tmp, snapshotBytes, manifestBytes, mediaFiles); err != nil {
		_ = a.fs.Remove(tmp)
		return "", err
	}
	if err := a.fs.Rename(tmp, dst); err != nil {
		_ = a.fs.Remove(tmp)
		return "", domain.Storagef("finalizing backup %s: %v", dst, err)
	}

	logger.InfoCtx(ctx, "Backup archive created",
		zap.String("filename", filename),
		zap.Int("assets", len(assets)),
		zap.Int("media_files", len(mediaFiles)),
	)

	return filename, nil
}

// ArchivePath resolves a backup filename to its absolute path. Only bare
// filenames produced by CreateBackup are accepted.
func (a *archiver) ArchivePath(filename string) (string, error) {
	base := filepath.Base(filepath.Clean(filename))
	if base != filename || !strings.HasPrefix(base, backupPrefix) || !strings.HasSuffix(base, backupSuffix) {
		return "", domain.Validationf("invalid backup filename %q", filename)
	}

	full := filepath.Join(a.backupDir, base)
	if _, err := a.fs.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return "", domain.NotFoundf("backup %s", base)
		}
		return "", domain.Storagef("checking backup %s: %v", base, err)
	}
	return full, nil
}

// Recover replaces the catalog and the managed media directory with the
// archive's content. Everything is staged and verified first; live state is
// only touched by the final swap, and a failed record replace swaps the
// previous media directory back.
func (a *archiver) Recover(ctx context.Context, archivePath string) error {
	if err := a.checkFormat(archivePath); err != nil {
		return err
	}

	staging := filepath.Join(a.backupDir, "restore-"+ulid.Make().String())
	if err := a.fs.MkdirAll(staging, 0o755); err != nil {
		return domain.Storagef("creating staging directory %s: %v", staging, err)
	}
	defer func() {
		if err := a.fs.RemoveAll(staging); err != nil {
			logger.Warn("Failed to remove staging directory", zap.String("path", staging), zap.Error(err))
		}
	}()

	entries, err := a.extract(archivePath, staging)
	if err != nil {
		return err
	}
	if err := a.verify(staging, entries); err != nil {
		return err
	}

	assets, err := a.loadSnapshot(filepath.Join(staging, snapshotEntry))
	if err != nil {
		return err
	}

	return a.swapIn(ctx, staging, assets)
}

// checkFormat rejects anything that is not a tar archive, plain or gzipped,
// before any state is staged or touched
func (a *archiver) checkFormat(archivePath string) error {
	mtype, err := mimetype.DetectFile(archivePath)
	if err != nil {
		return domain.ArchiveFormatf("reading archive: %v", err)
	}
	if !mtype.Is("application/x-tar") && !mtype.Is("application/gzip") {
		return domain.ArchiveFormatf("unsupported archive type %s", mtype.String())
	}
	return nil
}

// extract unpacks the archive's regular files into staging and returns the
// entry names seen. Entry paths are confined to the staging directory.
func (a *archiver) extract(archivePath, staging string) (map[string]bool, error) {
	f, err := a.fs.Open(archivePath)
	if err != nil {
		return nil, domain.Storagef("opening archive %s: %v", archivePath, err)
	}
	defer func() { _ = f.Close() }()

	var src io.Reader = f
	if gz, err := gzip.NewReader(f); err == nil {
		defer func() { _ = gz.Close() }()
		src = gz
	} else {
		// Not gzipped; rewind and read as a plain tar
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, domain.Storagef("rewinding archive %s: %v", archivePath, err)
		}
	}

	entries := make(map[string]bool)
	tr := tar.NewReader(src)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, domain.ArchiveFormatf("reading archive: %v", err)
		}

		name := path.Clean(hdr.Name)
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return nil, domain.ArchiveFormatf("archive entry %q escapes the staging directory", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := a.fs.MkdirAll(filepath.Join(staging, name), 0o755); err != nil {
				return nil, domain.Storagef("staging directory %s: %v", name, err)
			}
		case tar.TypeReg:
			dst := filepath.Join(staging, name)
			if err := a.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return nil, domain.Storagef("staging directory for %s: %v", name, err)
			}
			if err := a.stageFile(dst, tr); err != nil {
				return nil, err
			}
			entries[name] = true
		default:
			return nil, domain.ArchiveFormatf("unsupported archive entry %q", hdr.Name)
		}
	}

	if !entries[snapshotEntry] || !entries[manifestEntry] {
		return nil, domain.ArchiveFormatf("archive is missing %s or %s", snapshotEntry, manifestEntry)
	}
	return entries, nil
}

func (a *archiver) stageFile(dst string, src io.Reader) error {
	out, err := a.fs.Create(dst)
	if err != nil {
		return domain.Storagef("staging %s: %v", dst, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return domain.Storagef("staging %s: %v", dst, err)
	}
	return out.Close()
}

// verify checks every staged file against the archived manifest
func (a *archiver) verify(staging string, entries map[string]bool) error {
	raw, err := os.ReadFile(filepath.Join(staging, manifestEntry)) //nolint:gosec,G304
	if err != nil {
		return domain.Storagef("reading staged manifest: %v", err)
	}

	var m manifest
	if err := a.json.Unmarshal(raw, &m); err != nil {
		return domain.ArchiveFormatf("parsing manifest: %v", err)
	}

	for name, want := range m.Files {
		if !entries[name] {
			return domain.ArchiveFormatf("manifest lists %s but the archive does not contain it", name)
		}
		got, err := a.sha256File(filepath.Join(staging, filepath.FromSlash(name)))
		if err != nil {
			return err
		}
		if got != want {
			return domain.ArchiveFormatf("checksum mismatch for %s", name)
		}
	}
	for name := range entries {
		if name == manifestEntry {
			continue
		}
		if _, listed := m.Files[name]; !listed {
			return domain.ArchiveFormatf("archive contains %s but the manifest does not list it", name)
		}
	}
	return nil
}

// loadSnapshot parses the staged catalog snapshot and rewrites owned media
// paths from the archived media root to this instance's
func (a *archiver) loadSnapshot(snapshotPath string) ([]domain.Asset, error) {
	raw, err := os.ReadFile(snapshotPath) //nolint:gosec,G304
	if err != nil {
		return nil, domain.Storagef("reading staged snapshot: %v", err)
	}

	var snap snapshot
	if err := a.json.Unmarshal(raw, &snap); err != nil {
		return nil, domain.ArchiveFormatf("parsing catalog snapshot: %v", err)
	}
	if snap.Version != snapshotVersion {
		return nil, domain.ArchiveFormatf("unsupported snapshot version %d", snap.Version)
	}

	assets := make([]domain.Asset, 0, len(snap.Assets))
	for _, s := range snap.Assets {
		uri := s.URI
		if snap.MediaRoot != "" && strings.HasPrefix(uri, snap.MediaRoot+string(filepath.Separator)) {
			uri = a.dir.OwnedPath(filepath.Base(uri))
		}
		assets = append(assets, domain.Asset{
			AssetID:      s.AssetID,
			Name:         s.Name,
			URI:          uri,
			Mimetype:     domain.Mimetype(s.Mimetype),
			Duration:     s.Duration,
			StartDate:    s.StartDate,
			EndDate:      s.EndDate,
			IsEnabled:    s.IsEnabled,
			IsProcessing: s.IsProcessing,
			NoCache:      s.NoCache,
			PlayOrder:    s.PlayOrder,
			Metadata:     s.Metadata,
			CreatedAt:    s.CreatedAt,
			UpdatedAt:    s.UpdatedAt,
		})
	}
	return assets, nil
}

// swapIn is the only part of a recovery that touches live state: the media
// directory swap and the catalog replace, with the previous directory kept
// aside until both have succeeded
func (a *archiver) swapIn(ctx context.Context, staging string, assets []domain.Asset) error {
	stagedMedia := filepath.Join(staging, mediaEntryRoot)
	if _, err := a.fs.Stat(stagedMedia); err != nil {
		// Archive without media files restores an empty directory
		if err := a.fs.MkdirAll(stagedMedia, 0o755); err != nil {
			return domain.Storagef("creating staged media directory: %v", err)
		}
	}

	previous := a.dir.Root() + ".previous-" + ulid.Make().String()
	if err := a.fs.Rename(a.dir.Root(), previous); err != nil {
		return domain.Storagef("setting aside media directory: %v", err)
	}
	if err := a.fs.Rename(stagedMedia, a.dir.Root()); err != nil {
		// Put the old directory back before reporting
		_ = a.fs.Rename(previous, a.dir.Root())
		return domain.Storagef("swapping in restored media directory: %v", err)
	}

	if err := a.store.ReplaceCatalog(ctx, assets); err != nil {
		// Records did not change; restore the previous media directory
		_ = a.fs.RemoveAll(a.dir.Root())
		_ = a.fs.Rename(previous, a.dir.Root())
		return err
	}

	if err := a.fs.RemoveAll(previous); err != nil {
		logger.Warn("Failed to remove previous media directory", zap.String("path", previous), zap.Error(err))
	}

	logger.InfoCtx(ctx, "Catalog recovered from archive", zap.Int("assets", len(assets)))
	return nil
}

// writeArchive streams the snapshot, manifest, and media files into a
// gzipped tar at tmp
func (a *archiver) writeArchive(tmp string, snapshotBytes, manifestBytes []byte, mediaFiles []string) error {
	out, err := a.fs.Create(tmp)
	if err != nil {
		return domain.Storagef("creating backup %s: %v", tmp, err)
	}

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	fail := func(err error) error {
		_ = tw.Close()
		_ = gz.Close()
		_ = out.Close()
		return err
	}

	if err := a.writeBytesEntry(tw, manifestEntry, manifestBytes); err != nil {
		return fail(err)
	}
	if err := a.writeBytesEntry(tw, snapshotEntry, snapshotBytes); err != nil {
		return fail(err)
	}
	for _, name := range mediaFiles {
		if err := a.writeFileEntry(tw, path.Join(mediaEntryRoot, name), a.dir.OwnedPath(name)); err != nil {
			return fail(err)
		}
	}

	if err := tw.Close(); err != nil {
		return fail(domain.Storagef("closing backup archive: %v", err))
	}
	if err := gz.Close(); err != nil {
		_ = out.Close()
		return domain.Storagef("closing backup archive: %v", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return domain.Storagef("flushing backup archive: %v", err)
	}
	return out.Close()
}

func (a *archiver) writeBytesEntry(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(content)),
		ModTime: a.clock.Now().UTC(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return domain.Storagef("writing archive entry %s: %v", name, err)
	}
	if _, err := tw.Write(content); err != nil {
		return domain.Storagef("writing archive entry %s: %v", name, err)
	}
	return nil
}

func (a *archiver) writeFileEntry(tw *tar.Writer, name, srcPath string) error {
	info, err := a.fs.Stat(srcPath)
	if err != nil {
		return domain.Storagef("stat %s: %v", srcPath, err)
	}

	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return domain.Storagef("writing archive entry %s: %v", name, err)
	}

	src, err := a.fs.Open(srcPath)
	if err != nil {
		return domain.Storagef("opening %s: %v", srcPath, err)
	}
	defer func() { _ = src.Close() }()

	if _, err := io.Copy(tw, src); err != nil {
		return domain.Storagef("writing archive entry %s: %v", name, err)
	}
	return nil
}

// listMediaFiles returns the finalized files of the managed media
// directory, sorted by name. Upload and download buffers are skipped.
func (a *archiver) listMediaFiles() ([]string, error) {
	entries, err := a.fs.ReadDir(a.dir.Root())
	if err != nil {
		return nil, domain.Storagef("listing media directory: %v", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, domain.UPLOAD_TMP_SUFFIX) || strings.HasSuffix(name, ".part") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (a *archiver) canonicalSnapshot(assets []domain.Asset) ([]byte, error) {
	snap := snapshot{
		Version:   snapshotVersion,
		CreatedAt: a.clock.Now().UTC(),
		MediaRoot: a.dir.Root(),
		Assets:    make([]snapshotAsset, 0, len(assets)),
	}
	for _, asset := range assets {
		snap.Assets = append(snap.Assets, snapshotAsset{
			AssetID:      asset.AssetID,
			Name:         asset.Name,
			URI:          asset.URI,
			Mimetype:     string(asset.Mimetype),
			Duration:     asset.Duration,
			StartDate:    asset.StartDate,
			EndDate:      asset.EndDate,
			IsEnabled:    asset.IsEnabled,
			IsProcessing: asset.IsProcessing,
			NoCache:      asset.NoCache,
			PlayOrder:    asset.PlayOrder,
			Metadata:     asset.Metadata,
			CreatedAt:    asset.CreatedAt,
			UpdatedAt:    asset.UpdatedAt,
		})
	}

	raw, err := a.json.Marshal(snap)
	if err != nil {
		return nil, domain.Storagef("marshaling catalog snapshot: %v", err)
	}
	canonical, err := a.jcs.Transform(raw)
	if err != nil {
		return nil, domain.Storagef("canonicalizing catalog snapshot: %v", err)
	}
	return canonical, nil
}

func (a *archiver) canonicalManifest(m manifest) ([]byte, error) {
	raw, err := a.json.Marshal(m)
	if err != nil {
		return nil, domain.Storagef("marshaling manifest: %v", err)
	}
	canonical, err := a.jcs.Transform(raw)
	if err != nil {
		return nil, domain.Storagef("canonicalizing manifest: %v", err)
	}
	return canonical, nil
}

func (a *archiver) sha256File(path string) (string, error) {
	f, err := a.fs.Open(path)
	if err != nil {
		return "", domain.Storagef("opening %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", domain.Storagef("hashing %s: %v", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func sha256Hex(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
