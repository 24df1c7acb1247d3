package db

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"dbconnector/internal/connection"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the part of the S3 client the connector uses.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3DB exposes the CSV objects of one bucket. A query is the key of the
// object to read.
type S3DB struct {
	config connection.ConnectionConfig
	client s3API
}

func (s *S3DB) Connect(config connection.ConnectionConfig) error {
	s.config = config
	if strings.TrimSpace(config.Bucket) == "" {
		return fmt.Errorf("S3 connection requires a bucket")
	}
	if s.client == nil {
		ctx, cancel := context.WithTimeout(context.Background(), getConnectTimeout(config))
		defer cancel()
		region := config.Region
		if region == "" {
			region = "us-east-1"
		}
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
		if config.AccessKeyID != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
			))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to load S3 configuration: %w", err)
		}
		s.client = s3.NewFromConfig(cfg)
	}
	return s.Ping()
}

func (s *S3DB) Close() error {
	s.client = nil
	return nil
}

func (s *S3DB) Ping() error {
	if s.client == nil {
		return fmt.Errorf("connection not open")
	}
	ctx, cancel := context.WithTimeout(context.Background(), getConnectTimeout(s.config))
	defer cancel()
	_, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.config.Bucket),
		MaxKeys: aws.Int32(1),
	})
	return err
}

// ListFiles returns every object of the bucket.
func (s *S3DB) ListFiles() ([]FileInfo, error) {
	if s.client == nil {
		return nil, fmt.Errorf("connection not open")
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout(s.config))
	defer cancel()

	files := make([]FileInfo, 0)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.config.Bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			info := FileInfo{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				info.LastModified = obj.LastModified.UTC().Format(time.RFC3339)
			}
			files = append(files, info)
		}
	}
	return files, nil
}

func (s *S3DB) GetDatabases() ([]string, error) {
	return []string{s.config.Bucket}, nil
}

func (s *S3DB) GetTables(string) ([]string, error) {
	files, err := s.ListFiles()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(files))
	for _, f := range files {
		keys = append(keys, f.Key)
	}
	return keys, nil
}

func (s *S3DB) Query(key string) ([]map[string]interface{}, []string, error) {
	return s.QueryContext(context.Background(), key)
}

func (s *S3DB) QueryContext(ctx context.Context, key string) ([]map[string]interface{}, []string, error) {
	if s.client == nil {
		return nil, nil, fmt.Errorf("connection not open")
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(strings.TrimSpace(key)),
	})
	if err != nil {
		return nil, nil, err
	}
	defer out.Body.Close()
	return readCSVRows(out.Body, 0)
}

func (s *S3DB) Exec(string) (int64, error) {
	return 0, fmt.Errorf("exec is not supported for %s", DriverDisplayName(connection.DialectS3))
}

func (s *S3DB) Preview(key string, limit int) ([]map[string]interface{}, []string, error) {
	if s.client == nil {
		return nil, nil, fmt.Errorf("connection not open")
	}
	out, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, nil, err
	}
	defer out.Body.Close()
	return readCSVRows(out.Body, limit)
}

// readCSVRows reads a header row and at most limit data rows (all rows when
// limit <= 0). Values stay strings.
func readCSVRows(r io.Reader, limit int) ([]map[string]interface{}, []string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err == io.EOF {
		return []map[string]interface{}{}, []string{}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("CSV parse error: %w", err)
	}
	fields := uniqueHeaders(header)
	rows := make([]map[string]interface{}, 0)
	for limit <= 0 || len(rows) < limit {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("CSV parse error: %w", err)
		}
		row := make(map[string]interface{}, len(fields))
		for i, field := range fields {
			if i < len(record) {
				row[field] = record[i]
			} else {
				row[field] = nil
			}
		}
		rows = append(rows, row)
	}
	return rows, fields, nil
}
