package corfs

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/mattetti/filebuffer"
)

// S3FileSystem abstracts AWS S3 as a filesystem.
// Locations are of the form s3://bucket/key.
type S3FileSystem struct {
	s3Client s3iface.S3API
	// HomeBucket is the bucket HomeDir resolves into
	HomeBucket string
}

// NewS3FileSystem returns an S3FileSystem using the given client
func NewS3FileSystem(client s3iface.S3API, homeBucket string) *S3FileSystem {
	return &S3FileSystem{
		s3Client:   client,
		HomeBucket: homeBucket,
	}
}

func parseS3URI(uri string) (*url.URL, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "s3" {
		return nil, fmt.Errorf("invalid s3 location %q", uri)
	}
	return parsed, nil
}

func objectKey(parsed *url.URL) string {
	return strings.TrimPrefix(parsed.Path, "/")
}

// ListFiles lists files that match pathGlob.
func (s *S3FileSystem) ListFiles(pathGlob string) ([]FileInfo, error) {
	s3Files := make([]FileInfo, 0)

	parsed, err := parseS3URI(pathGlob)
	if err != nil {
		return nil, err
	}

	baseURI := parsed.Path
	if globStart := strings.IndexAny(baseURI, "*[?"); globStart != -1 {
		baseURI = baseURI[:globStart]
	}

	params := &s3.ListObjectsV2Input{
		Bucket: aws.String(parsed.Host),
		Prefix: aws.String(strings.TrimPrefix(baseURI, "/")),
	}

	objectPrefix := fmt.Sprintf("s3://%s/", parsed.Host)
	err = s.s3Client.ListObjectsV2Pages(params,
		func(page *s3.ListObjectsV2Output, _ bool) bool {
			for _, object := range page.Contents {
				match, _ := filepath.Match(parsed.Path, "/"+*object.Key)
				if !match && !strings.HasPrefix("/"+*object.Key, parsed.Path) {
					continue
				}
				info := FileInfo{
					Name: objectPrefix + *object.Key,
					Size: aws.Int64Value(object.Size),
				}
				if object.LastModified != nil {
					info.ModTime = object.LastModified.Unix()
				}
				s3Files = append(s3Files, info)
			}
			return true
		})

	return s3Files, err
}

// OpenReader opens a reader to the file at filePath. The reader
// is initially seeked to "startAt" bytes into the file.
func (s *S3FileSystem) OpenReader(filePath string, startAt int64) (io.ReadCloser, error) {
	parsed, err := parseS3URI(filePath)
	if err != nil {
		return nil, err
	}
	objStat, err := s.Stat(filePath)
	if err != nil {
		return nil, err
	}

	reader := &s3Reader{
		client:    s.s3Client,
		bucket:    parsed.Host,
		key:       objectKey(parsed),
		offset:    startAt,
		chunkSize: 100 * 1024 * 1024, // 100 Mb chunk size
		totalSize: objStat.Size,
	}
	err = reader.loadNextChunk()
	return reader, err
}

// OpenWriter opens a writer to the file at filePath.
func (s *S3FileSystem) OpenWriter(filePath string) (io.WriteCloser, error) {
	parsed, err := parseS3URI(filePath)
	if err != nil {
		return nil, err
	}

	return &s3Writer{
		client: s.s3Client,
		bucket: parsed.Host,
		key:    objectKey(parsed),
		buf:    filebuffer.New(nil),
	}, nil
}

// Stat returns information about the file at filePath.
func (s *S3FileSystem) Stat(filePath string) (FileInfo, error) {
	parsed, err := parseS3URI(filePath)
	if err != nil {
		return FileInfo{}, err
	}

	params := &s3.HeadObjectInput{
		Bucket: aws.String(parsed.Host),
		Key:    aws.String(objectKey(parsed)),
	}
	result, err := s.s3Client.HeadObject(params)
	if err != nil {
		return FileInfo{}, err
	}

	info := FileInfo{
		Name: filePath,
		Size: aws.Int64Value(result.ContentLength),
	}
	if result.LastModified != nil {
		info.ModTime = result.LastModified.Unix()
	}
	return info, nil
}

// dirPrefix returns the listing prefix of the objects stored under key.
// The trailing separator keeps sibling keys sharing a name prefix out.
func dirPrefix(key string) string {
	if key == "" {
		return ""
	}
	return strings.TrimSuffix(key, "/") + "/"
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case "NotFound", s3.ErrCodeNoSuchKey:
		return true
	}
	return false
}

// objectExists reports whether an object is stored at exactly key
func (s *S3FileSystem) objectExists(bucket, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	_, err := s.s3Client.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// Exists reports whether an object is stored at filePath, or whether
// filePath is a directory holding any stored object.
func (s *S3FileSystem) Exists(filePath string) (bool, error) {
	parsed, err := parseS3URI(filePath)
	if err != nil {
		return false, err
	}
	key := objectKey(parsed)

	exists, err := s.objectExists(parsed.Host, key)
	if err != nil || exists {
		return exists, err
	}

	params := &s3.ListObjectsV2Input{
		Bucket:  aws.String(parsed.Host),
		Prefix:  aws.String(dirPrefix(key)),
		MaxKeys: aws.Int64(1),
	}
	result, err := s.s3Client.ListObjectsV2(params)
	if err != nil {
		return false, err
	}
	return len(result.Contents) > 0, nil
}

// Delete removes the object at filePath along with every object stored
// under filePath as a directory.
func (s *S3FileSystem) Delete(filePath string) error {
	parsed, err := parseS3URI(filePath)
	if err != nil {
		return err
	}
	key := objectKey(parsed)

	var objects []*s3.ObjectIdentifier
	exists, err := s.objectExists(parsed.Host, key)
	if err != nil {
		return err
	}
	if exists {
		objects = append(objects, &s3.ObjectIdentifier{Key: aws.String(key)})
	}

	params := &s3.ListObjectsV2Input{
		Bucket: aws.String(parsed.Host),
		Prefix: aws.String(dirPrefix(key)),
	}
	err = s.s3Client.ListObjectsV2Pages(params,
		func(page *s3.ListObjectsV2Output, _ bool) bool {
			for _, object := range page.Contents {
				objects = append(objects, &s3.ObjectIdentifier{Key: object.Key})
			}
			return true
		})
	if err != nil {
		return err
	}

	// DeleteObjects accepts at most 1000 keys per request
	for start := 0; start < len(objects); start += 1000 {
		end := start + 1000
		if end > len(objects) {
			end = len(objects)
		}
		input := &s3.DeleteObjectsInput{
			Bucket: aws.String(parsed.Host),
			Delete: &s3.Delete{
				Objects: objects[start:end],
				Quiet:   aws.Bool(true),
			},
		}
		if _, err := s.s3Client.DeleteObjects(input); err != nil {
			return err
		}
	}
	return nil
}

// CopyFromLocal uploads the local file at localPath to remotePath
func (s *S3FileSystem) CopyFromLocal(localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := s.OpenWriter(remotePath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	return dst.Close()
}

// HomeDir returns the per-user prefix in the home bucket
func (s *S3FileSystem) HomeDir() (string, error) {
	if s.HomeBucket == "" {
		return "", errors.New("no home bucket configured for S3 filesystem")
	}
	current, err := user.Current()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/user/%s", s.HomeBucket, current.Username), nil
}

// Init initializes the filesystem.
func (s *S3FileSystem) Init() error {
	sess := session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))

	s.s3Client = s3.New(sess)
	return nil
}

// Join joins file path elements
func (s *S3FileSystem) Join(elem ...string) string {
	stripped := make([]string, len(elem))
	for i, str := range elem {
		if strings.HasPrefix(str, "/") {
			str = str[1:]
		}
		if i != len(elem)-1 && strings.HasSuffix(str, "/") {
			str = str[:len(str)-1]
		}
		stripped[i] = str
	}
	return strings.Join(stripped, "/")
}
