package datastore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/danthegoodman1/icetree/utils"
	"github.com/rs/zerolog"
)

type (
	S3DataStore struct {
		client s3iface.S3API
		bucket string
		prefix string
	}

	S3PartStorage struct {
		store    *S3DataStore
		table    string
		partName string
		tx       *s3Tx
	}

	s3Tx struct {
		staged   map[string]*bytes.Buffer
		removals []string
	}

	s3WriteBuffer struct {
		storage *S3PartStorage
		name    string
		buf     *bytes.Buffer
		state   bufferState
	}
)

func NewS3DataStore(client s3iface.S3API, bucket, prefix string) *S3DataStore {
	return &S3DataStore{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// NewS3DataStoreFromEnv builds a client from the AWS_* and S3_* environment
func NewS3DataStoreFromEnv() (*S3DataStore, error) {
	s3Config := &aws.Config{
		Region:      aws.String(utils.AWS_DEFAULT_REGION),
		Credentials: credentials.NewEnvCredentials(),
	}
	if utils.S3_ENDPOINT != "" {
		s3Config.Endpoint = aws.String(utils.S3_ENDPOINT)
		s3Config.S3ForcePathStyle = aws.Bool(true)
	}

	s3Session, err := session.NewSession(s3Config)
	if err != nil {
		return nil, fmt.Errorf("error making new session: %w", err)
	}

	return NewS3DataStore(s3.New(s3Session), utils.S3_BUCKET_NAME, utils.DATA_DIR), nil
}

func (sds *S3DataStore) key(parts ...string) string {
	if sds.prefix == "" {
		return path.Join(parts...)
	}
	return path.Join(append([]string{sds.prefix}, parts...)...)
}

func (sds *S3DataStore) PartStorage(table, partName string) PartStorage {
	return &S3PartStorage{
		store:    sds,
		table:    table,
		partName: partName,
		tx:       newS3Tx(),
	}
}

func (sds *S3DataStore) listKeys(ctx context.Context, prefix string, delimiter *string) ([]string, []string, error) {
	var keys, prefixes []string
	err := sds.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(sds.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: delimiter,
	}, func(out *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range out.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		for _, p := range out.CommonPrefixes {
			prefixes = append(prefixes, aws.StringValue(p.Prefix))
		}
		return true
	})
	if err != nil {
		return nil, nil, fmt.Errorf("error in ListObjectsV2Pages: %w", err)
	}
	return keys, prefixes, nil
}

func (sds *S3DataStore) ListParts(ctx context.Context, table string) ([]string, error) {
	prefix := sds.key(table) + "/"
	_, prefixes, err := sds.listKeys(ctx, prefix, aws.String("/"))
	if err != nil {
		return nil, err
	}
	parts := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		parts = append(parts, strings.TrimSuffix(strings.TrimPrefix(p, prefix), "/"))
	}
	return parts, nil
}

// RenamePart copies every object of the part under the new name, then deletes the originals
func (sds *S3DataStore) RenamePart(ctx context.Context, table, from, to string) error {
	dstPrefix := sds.key(table, to) + "/"
	existing, _, err := sds.listKeys(ctx, dstPrefix, nil)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return fmt.Errorf("%w: %s/%s", ErrPartAlreadyExists, table, to)
	}
	srcPrefix := sds.key(table, from) + "/"
	keys, _, err := sds.listKeys(ctx, srcPrefix, nil)
	if err != nil {
		return err
	}
	for _, k := range keys {
		_, err := sds.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(sds.bucket),
			CopySource: aws.String(sds.bucket + "/" + k),
			Key:        aws.String(dstPrefix + strings.TrimPrefix(k, srcPrefix)),
		})
		if err != nil {
			return fmt.Errorf("error in CopyObject for %s: %w", k, err)
		}
	}
	for _, k := range keys {
		if err := sds.deleteKey(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (sds *S3DataStore) RemovePart(ctx context.Context, table, partName string) error {
	keys, _, err := sds.listKeys(ctx, sds.key(table, partName)+"/", nil)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := sds.deleteKey(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (sds *S3DataStore) Shutdown(_ context.Context) error {
	return nil
}

func (sds *S3DataStore) deleteKey(ctx context.Context, key string) error {
	_, err := sds.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(sds.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("error in DeleteObject for %s: %w", key, err)
	}
	return nil
}

func (sds *S3DataStore) putObject(ctx context.Context, key string, body *bytes.Buffer) error {
	logger := zerolog.Ctx(ctx)
	s := time.Now()
	if int64(body.Len()) > s3manager.DefaultUploadPartSize {
		uploader := s3manager.NewUploaderWithClient(sds.client)
		_, err := uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket: aws.String(sds.bucket),
			Key:    aws.String(key),
			Body:   body,
		})
		if err != nil {
			return fmt.Errorf("error uploading to s3: %w", err)
		}
	} else {
		_, err := sds.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket: aws.String(sds.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(body.Bytes()),
		})
		if err != nil {
			return fmt.Errorf("error in PutObject: %w", err)
		}
	}
	d := time.Since(s)
	logger.Debug().Str("fileName", key).Int64("durationNS", d.Nanoseconds()).Str("durationHuman", d.String()).Msg("uploaded file to s3")
	return nil
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

func newS3Tx() *s3Tx {
	return &s3Tx{staged: map[string]*bytes.Buffer{}}
}

func (s *S3PartStorage) PartName() string { return s.partName }

func (s *S3PartStorage) FullPath() string {
	return "s3://" + s.store.bucket + "/" + s.store.key(s.table, s.partName)
}

func (s *S3PartStorage) fileKey(name string) string {
	return s.store.key(s.table, s.partName, name)
}

// CreateDirectories is a no-op, object storage has no directories
func (s *S3PartStorage) CreateDirectories(_ context.Context) error {
	return nil
}

func (s *S3PartStorage) WriteFile(_ context.Context, name string) (WriteBuffer, error) {
	return &s3WriteBuffer{storage: s, name: name, buf: &bytes.Buffer{}}, nil
}

func (s *S3PartStorage) RemoveFile(ctx context.Context, name string) error {
	if s.tx == nil {
		return ErrNoTransaction
	}
	exists, err := s.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s in %s", ErrFileNotFound, name, s.partName)
	}
	s.tx.removals = append(s.tx.removals, name)
	return nil
}

func (s *S3PartStorage) BeginTransaction(_ context.Context) error {
	if s.tx != nil {
		return ErrTransactionOpen
	}
	s.tx = newS3Tx()
	return nil
}

func (s *S3PartStorage) CommitTransaction(ctx context.Context) error {
	if s.tx == nil {
		return ErrNoTransaction
	}
	tx := s.tx
	s.tx = nil

	names := make([]string, 0, len(tx.staged))
	for name := range tx.staged {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.store.putObject(ctx, s.fileKey(name), tx.staged[name]); err != nil {
			return err
		}
	}
	for _, name := range tx.removals {
		if err := s.store.deleteKey(ctx, s.fileKey(name)); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3PartStorage) RollbackTransaction(_ context.Context) error {
	if s.tx == nil {
		return ErrNoTransaction
	}
	s.tx = nil
	return nil
}

func (s *S3PartStorage) ReadFile(ctx context.Context, name string) ([]byte, error) {
	out, err := s.store.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.store.bucket),
		Key:    aws.String(s.fileKey(name)),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s in %s", ErrFileNotFound, name, s.partName)
	}
	if err != nil {
		return nil, fmt.Errorf("error in GetObject: %w", err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading object body: %w", err)
	}
	return b, nil
}

func (s *S3PartStorage) ListFiles(ctx context.Context) ([]string, error) {
	prefix := s.store.key(s.table, s.partName) + "/"
	keys, _, err := s.store.listKeys(ctx, prefix, nil)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(keys))
	for _, k := range keys {
		files = append(files, strings.TrimPrefix(k, prefix))
	}
	return files, nil
}

func (s *S3PartStorage) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.store.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.store.bucket),
		Key:    aws.String(s.fileKey(name)),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error in HeadObject: %w", err)
	}
	return true, nil
}

func (b *s3WriteBuffer) Name() string { return b.name }

func (b *s3WriteBuffer) Count() int64 { return int64(b.buf.Len()) }

func (b *s3WriteBuffer) Write(p []byte) (int, error) {
	if b.state != bufferOpen {
		return 0, ErrBufferClosed
	}
	return b.buf.Write(p)
}

func (b *s3WriteBuffer) PreFinalize() error {
	if b.state != bufferOpen {
		return ErrBufferClosed
	}
	return nil
}

func (b *s3WriteBuffer) Finalize() error {
	if b.state != bufferOpen {
		return ErrBufferClosed
	}
	if b.storage.tx == nil {
		return ErrNoTransaction
	}
	b.storage.tx.staged[b.name] = b.buf
	b.state = bufferFinalized
	return nil
}

// Sync is a no-op, durability comes from the upload on commit
func (b *s3WriteBuffer) Sync() error {
	return nil
}

func (b *s3WriteBuffer) Cancel() {
	if b.state == bufferFinalized {
		if tx := b.storage.tx; tx != nil && tx.staged[b.name] == b.buf {
			delete(tx.staged, b.name)
		}
	}
	b.buf = &bytes.Buffer{}
	b.state = bufferCancelled
}
