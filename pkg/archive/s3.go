// Copyright 2024 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sethvargo/go-envconfig"

	"github.com/abcxyz/pkg/logging"
)

// S3 environment configuration.
const (
	s3EndpointEnvVar  = "WORKFLOW_S3_ENDPOINT"
	s3AccessKeyEnvVar = "WORKFLOW_S3_ACCESS_KEY"
	s3SecretKeyEnvVar = "WORKFLOW_S3_SECRET_KEY"
	s3BucketEnvVar    = "WORKFLOW_S3_BUCKET"
)

// S3 archives artifacts into an S3-compatible object store.
type S3 struct {
	client *minio.Client
	bucket string
}

// NewS3 creates the s3 driver from the WORKFLOW_S3_* environment.
func NewS3(ctx context.Context, lu envconfig.Lookuper) (*S3, error) {
	endpoint, _ := lu.Lookup(s3EndpointEnvVar)
	if endpoint == "" {
		return nil, fmt.Errorf("%s is not set", s3EndpointEnvVar)
	}
	accessKey, _ := lu.Lookup(s3AccessKeyEnvVar)
	secretKey, _ := lu.Lookup(s3SecretKeyEnvVar)
	bucket, _ := lu.Lookup(s3BucketEnvVar)
	if bucket == "" {
		bucket = "workflow"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}
	return &S3{client: client, bucket: bucket}, nil
}

// Bypass leaves the artifacts where they are.
func (s *S3) Bypass(ctx context.Context, dest string, items []string) ([]string, error) {
	logging.FromContext(ctx).DebugContext(ctx, "bypassing archive", "dest", dest)
	return items, nil
}

// Copy uploads each artifact under the dest prefix, rewriting entries to
// s3://<bucket>/<key> URIs. Missing sources are logged and kept as-is.
func (s *S3) Copy(ctx context.Context, dest string, items []string) ([]string, error) {
	logger := logging.FromContext(ctx)
	out := make([]string, 0, len(items))
	for _, item := range items {
		key := path.Join(dest, filepath.Base(item))
		if _, err := s.client.FPutObject(ctx, s.bucket, key, item, minio.PutObjectOptions{}); err != nil {
			logger.WarnContext(ctx, "failed to upload artifact", "item", item, "error", err)
			out = append(out, item)
			continue
		}
		out = append(out, fmt.Sprintf("s3://%s/%s", s.bucket, key))
	}
	return out, nil
}

// Move uploads each artifact like Copy, then removes the local source.
func (s *S3) Move(ctx context.Context, dest string, items []string) ([]string, error) {
	logger := logging.FromContext(ctx)
	out := make([]string, 0, len(items))
	for _, item := range items {
		key := path.Join(dest, filepath.Base(item))
		if _, err := s.client.FPutObject(ctx, s.bucket, key, item, minio.PutObjectOptions{}); err != nil {
			logger.WarnContext(ctx, "failed to upload artifact", "item", item, "error", err)
			out = append(out, item)
			continue
		}
		if err := os.Remove(item); err != nil {
			logger.WarnContext(ctx, "failed to remove uploaded artifact source", "item", item, "error", err)
		}
		out = append(out, fmt.Sprintf("s3://%s/%s", s.bucket, key))
	}
	return out, nil
}

// Upload is an alias for Copy on the object store.
func (s *S3) Upload(ctx context.Context, dest string, items []string) ([]string, error) {
	return s.Copy(ctx, dest, items)
}

// Delete is not supported on the s3 driver.
func (s *S3) Delete(ctx context.Context, dest string, items []string) ([]string, error) {
	return nil, fmt.Errorf("%w: s3 delete", ErrUnimplemented)
}

// Permissions is not supported on the s3 driver.
func (s *S3) Permissions(ctx context.Context, dest, site string) error {
	return fmt.Errorf("%w: s3 permissions", ErrUnimplemented)
}
