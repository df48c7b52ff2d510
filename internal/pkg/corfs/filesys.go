package corfs

import (
	"io"
	"strings"
)

// FileSystemType is an identifier for supported FileSystems
type FileSystemType int

// Identifiers for supported FileSystemTypes
const (
	Local FileSystemType = iota
	S3
)

// FileSystem provides the storage backend for graph computations.
// Graph input is read from a file system, intermediate graph output and
// staged artifacts are written to it, and unneeded output is deleted from it.
// This is abstracted to allow remote filesystems like S3 to be supported.
type FileSystem interface {
	ListFiles(pathGlob string) ([]FileInfo, error)
	Stat(filePath string) (FileInfo, error)
	OpenReader(filePath string, startAt int64) (io.ReadCloser, error)
	OpenWriter(filePath string) (io.WriteCloser, error)
	Exists(filePath string) (bool, error)
	Delete(filePath string) error
	CopyFromLocal(localPath, remotePath string) error
	HomeDir() (string, error)
	Join(elem ...string) string
	Init() error
}

// FileInfo provides information about a file
type FileInfo struct {
	Name    string // file path
	Size    int64  // file size in bytes
	ModTime int64  // unix modification time, when known
	IsDir   bool
}

// InitFilesystem intializes a filesystem of the given type
func InitFilesystem(fsType FileSystemType) FileSystem {
	var fs FileSystem
	switch fsType {
	case Local:
		fs = &LocalFileSystem{}
	case S3:
		fs = &S3FileSystem{}
	}

	fs.Init()
	return fs
}

// InferFilesystem initializes a filesystem by inferring its type from
// a location locator
func InferFilesystem(location string) FileSystem {
	fsType := InferFilesystemType(location)
	fs := InitFilesystem(fsType)
	if s3fs, ok := fs.(*S3FileSystem); ok {
		if parsed, err := parseS3URI(location); err == nil {
			s3fs.HomeBucket = parsed.Host
		}
	}
	return fs
}

// InferFilesystemType returns the FileSystemType that serves the given location
func InferFilesystemType(location string) FileSystemType {
	if strings.HasPrefix(location, "s3://") {
		return S3
	}
	return Local
}
