package corfs

import (
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/mattetti/filebuffer"
)

type s3Writer struct {
	client s3iface.S3API
	bucket string
	key    string
	buf    *filebuffer.Buffer
}

func (s *s3Writer) Write(p []byte) (n int, err error) {
	return s.buf.Write(p)
}

func (s *s3Writer) Close() error {
	s.buf.Seek(0, io.SeekStart)
	input := &s3.PutObjectInput{
		Body:   s.buf,
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	}
	_, err := s.client.PutObject(input)
	return err
}

type s3Reader struct {
	client    s3iface.S3API
	bucket    string
	key       string
	offset    int64
	chunkSize int64
	chunk     io.ReadCloser
	totalSize int64
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func (s *s3Reader) loadNextChunk() error {
	if s.chunk != nil {
		s.chunk.Close()
	}
	size := min64(s.chunkSize, s.totalSize-s.offset)
	if size <= 0 {
		s.chunk = io.NopCloser(&emptyReader{})
		return nil
	}
	params := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", s.offset, s.offset+size-1)),
	}
	s.offset += size
	output, err := s.client.GetObject(params)
	if err != nil {
		return err
	}
	s.chunk = output.Body
	return nil
}

func (s *s3Reader) Read(b []byte) (n int, err error) {
	n, err = s.chunk.Read(b)
	if err == io.EOF && s.offset < s.totalSize {
		err = s.loadNextChunk()
	}
	return n, err
}

func (s *s3Reader) Close() error {
	return s.chunk.Close()
}

type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, io.EOF }
