package corfs

import (
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// LocalFileSystem provides a FileSystem backed by the local disk.
// Home overrides the directory reported by HomeDir.
type LocalFileSystem struct {
	Home string
}

func walkDir(dir string) []FileInfo {
	files := make([]FileInfo, 0)
	filepath.Walk(dir, func(path string, f os.FileInfo, err error) error {
		if err != nil {
			log.Error(err)
			return err
		}
		if f.IsDir() {
			return nil
		}
		files = append(files, toFileInfo(path, f))
		return nil
	})

	return files
}

func toFileInfo(path string, f os.FileInfo) FileInfo {
	return FileInfo{
		Name:    path,
		Size:    f.Size(),
		ModTime: f.ModTime().Unix(),
		IsDir:   f.IsDir(),
	}
}

// ListFiles lists the files matching pathGlob. Matched directories are walked.
func (l *LocalFileSystem) ListFiles(pathGlob string) ([]FileInfo, error) {
	globbedFiles, err := filepath.Glob(pathGlob)
	if err != nil {
		return nil, err
	}

	files := make([]FileInfo, 0)
	for _, fileName := range globbedFiles {
		fInfo, err := os.Stat(fileName)
		if err != nil {
			log.Error(err)
			continue
		}
		if !fInfo.IsDir() {
			files = append(files, toFileInfo(fileName, fInfo))
		} else {
			files = append(files, walkDir(fileName)...)
		}
	}

	return files, err
}

func (l *LocalFileSystem) OpenReader(filePath string, startAt int64) (io.ReadCloser, error) {
	file, err := os.OpenFile(filePath, os.O_RDONLY, 0600)
	if err != nil {
		return nil, err
	}
	_, err = file.Seek(startAt, io.SeekStart)
	return file, err
}

func (l *LocalFileSystem) OpenWriter(filePath string) (io.WriteCloser, error) {
	dir := filepath.Dir(filePath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
}

func (l *LocalFileSystem) Stat(filePath string) (FileInfo, error) {
	fInfo, err := os.Stat(filePath)
	if err != nil {
		return FileInfo{}, err
	}
	return toFileInfo(filePath, fInfo), nil
}

// Exists reports whether anything is stored at filePath
func (l *LocalFileSystem) Exists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Delete recursively removes filePath. Deleting a missing path is not an error.
func (l *LocalFileSystem) Delete(filePath string) error {
	return os.RemoveAll(filePath)
}

// CopyFromLocal copies a local file to remotePath, which for the local
// filesystem is just another path on disk.
func (l *LocalFileSystem) CopyFromLocal(localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := l.OpenWriter(remotePath)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func (l *LocalFileSystem) HomeDir() (string, error) {
	if l.Home != "" {
		return l.Home, nil
	}
	return os.UserHomeDir()
}

func (l *LocalFileSystem) Init() error {
	return nil
}

func (l *LocalFileSystem) Join(elem ...string) string {
	return filepath.Join(elem...)
}
