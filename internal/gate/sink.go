package gate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fpang/image-edit/internal/workflow"
	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"
)

// DirSink writes released images into a directory. Existing files are never
// overwritten; a numeric suffix is added instead.
type DirSink struct {
	Dir string
}

func (s DirSink) Save(ctx context.Context, ref workflow.OutputReference, filename string) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	p, err := writeExclusive(s.Dir, filename, ref.Data)
	if err != nil {
		return err
	}
	log.Info().Str("path", p).Msg("Edited image written")
	return nil
}

// writeExclusive creates filename in dir, trying name-1, name-2, ... when taken.
func writeExclusive(dir, filename string, data []byte) (string, error) {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	for i := 0; i < 1000; i++ {
		name := filename
		if i > 0 {
			name = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		p := filepath.Join(dir, name)
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create output file: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to write output file: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("failed to close output file: %w", err)
		}
		return p, nil
	}
	return "", fmt.Errorf("no free filename for %s in %s", filename, dir)
}

// DialogSink asks where to save with a native save dialog.
type DialogSink struct {
	Dir string
}

func (s DialogSink) Save(ctx context.Context, ref workflow.OutputReference, filename string) error {
	ext := filepath.Ext(filename)
	target, err := zenity.SelectFileSave(
		zenity.Title("Save edited image"),
		zenity.Filename(filepath.Join(s.Dir, filename)),
		zenity.ConfirmOverwrite(),
		zenity.FileFilters{{Name: "Images", Patterns: []string{"*" + ext}}},
		zenity.Context(ctx),
	)
	if errors.Is(err, zenity.ErrCanceled) {
		return fmt.Errorf("save dialog closed: %w", ErrDeclined)
	}
	if err != nil {
		return fmt.Errorf("save dialog failed: %w", err)
	}
	if err := os.WriteFile(target, ref.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	log.Info().Str("path", target).Msg("Edited image written")
	return nil
}

// S3PutObjectAPI is the part of the S3 client the S3 sink uses.
type S3PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads released images to a bucket under an optional prefix.
type S3Sink struct {
	Client S3PutObjectAPI
	Bucket string
	Prefix string
}

// NewS3Sink builds an S3 sink with the default AWS credential chain.
func NewS3Sink(ctx context.Context, bucket, prefix string) (*S3Sink, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &S3Sink{Client: s3.NewFromConfig(cfg), Bucket: bucket, Prefix: prefix}, nil
}

// Key returns the object key used for filename.
func (s *S3Sink) Key(filename string) string {
	return path.Join(s.Prefix, filename)
}

func (s *S3Sink) Save(ctx context.Context, ref workflow.OutputReference, filename string) error {
	key := s.Key(filename)
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(ref.Data),
		ContentType: aws.String(ref.MIMEType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload edited image to S3: %w", err)
	}
	log.Info().Str("bucket", s.Bucket).Str("key", key).Msg("Edited image uploaded to S3")
	return nil
}
