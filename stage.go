package graphcorral

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bcongdon/graphcorral/internal/pkg/corfs"
	humanize "github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// LibsEnvVar lists the local directories whose archives are staged for workers
const LibsEnvVar = "GRAPHCORRAL_LIBS"

// remoteLibsDir is the directory, under the file system home directory,
// that archives are staged to
const remoteLibsDir = "graphcorral-libs"

// stagedArtifacts remembers archives staged by this process so that later
// submissions do not copy unchanged files again
var stagedArtifacts, _ = lru.New(1024)

// stagedArtifact maps a local archive to its staged copy
type stagedArtifact struct {
	LocalPath  string
	RemotePath string
	Size       int64
	ModTime    int64
}

type artifactStager struct {
	local       *corfs.LocalFileSystem
	remote      corfs.FileSystem
	extension   string
	concurrency int
	logger      *log.Entry
}

// stage copies every archive found in the colon separated searchPath
// directories to the remote file system and returns the staged remote paths.
// Missing directories are skipped; a failed copy is fatal.
func (s *artifactStager) stage(ctx context.Context, searchPath string) ([]string, error) {
	if searchPath == "" {
		s.logger.Warnf("%s is not set -- proceeding regardless", LibsEnvVar)
		return nil, nil
	}

	home, err := s.remote.HomeDir()
	if err != nil {
		return nil, fmt.Errorf("could not resolve staging directory: %w", err)
	}
	remoteDir := s.remote.Join(home, remoteLibsDir)

	var artifacts []stagedArtifact
	for _, dir := range filepath.SplitList(searchPath) {
		found, err := s.findArchives(dir)
		if err != nil {
			return nil, err
		}
		for _, file := range found {
			artifacts = append(artifacts, stagedArtifact{
				LocalPath:  file.Name,
				RemotePath: s.remote.Join(remoteDir, filepath.Base(file.Name)),
				Size:       file.Size,
				ModTime:    file.ModTime,
			})
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	if s.concurrency > 0 {
		group.SetLimit(s.concurrency)
	}
	for _, artifact := range artifacts {
		artifact := artifact
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return s.copyArtifact(artifact)
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	archives := make([]string, len(artifacts))
	for i, artifact := range artifacts {
		archives[i] = artifact.RemotePath
	}
	return archives, nil
}

// findArchives lists the archives directly inside dir, sorted by name
func (s *artifactStager) findArchives(dir string) ([]corfs.FileInfo, error) {
	info, err := s.local.Stat(dir)
	if err != nil || !info.IsDir {
		s.logger.Warnf("%s does not reference a valid directory -- proceeding regardless", dir)
		return nil, nil
	}

	files, err := s.local.ListFiles(filepath.Join(dir, "*"+s.extension))
	if err != nil {
		return nil, fmt.Errorf("could not list archives in %s: %w", dir, err)
	}

	archives := make([]corfs.FileInfo, 0, len(files))
	for _, file := range files {
		// ListFiles walks matched directories; only direct children are staged
		if filepath.Dir(file.Name) != filepath.Clean(dir) || !strings.HasSuffix(file.Name, s.extension) {
			continue
		}
		archives = append(archives, file)
	}
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Name < archives[j].Name
	})
	return archives, nil
}

func (s *artifactStager) copyArtifact(artifact stagedArtifact) error {
	if s.alreadyStaged(artifact) {
		s.logger.Debugf("Archive %s is already staged", artifact.RemotePath)
		stagedArtifactsTotal.WithLabelValues("cache").Inc()
		return nil
	}

	s.logger.Debugf("Staging %s (%s) to %s", artifact.LocalPath, humanize.Bytes(uint64(artifact.Size)), artifact.RemotePath)
	if err := s.remote.CopyFromLocal(artifact.LocalPath, artifact.RemotePath); err != nil {
		return fmt.Errorf("could not stage %s to %s: %w", artifact.LocalPath, artifact.RemotePath, err)
	}
	stagedArtifacts.Add(artifact.RemotePath, artifact)
	stagedArtifactsTotal.WithLabelValues("copy").Inc()
	return nil
}

// alreadyStaged reports whether an earlier submission staged this exact
// archive and the staged copy is still in place
func (s *artifactStager) alreadyStaged(artifact stagedArtifact) bool {
	cached, ok := stagedArtifacts.Get(artifact.RemotePath)
	if !ok || cached.(stagedArtifact) != artifact {
		return false
	}
	info, err := s.remote.Stat(artifact.RemotePath)
	if err != nil || info.Size != artifact.Size {
		s.logger.Debugf("Staged copy %s is missing or changed", artifact.RemotePath)
		return false
	}
	return true
}
