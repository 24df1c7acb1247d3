package db

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"dbconnector/internal/connection"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string]string
}

func (f *fakeS3) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if aws.ToString(params.Bucket) != "plotly-s3-connector-test" {
		return nil, errors.New("NoSuchBucket")
	}
	modified := time.Date(2016, 10, 9, 17, 29, 49, 0, time.UTC)
	out := &s3.ListObjectsV2Output{}
	for _, key := range []string{"A.csv", "B.csv"} {
		if _, ok := f.objects[key]; !ok {
			continue
		}
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(f.objects[key]))),
			LastModified: aws.Time(modified),
		})
	}
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func newFakeS3DB(t *testing.T) *S3DB {
	t.Helper()
	store := &S3DB{client: &fakeS3{objects: map[string]string{
		"A.csv": "x,y\n1,2\n3,4\n5,6\n",
		"B.csv": "",
	}}}
	require.NoError(t, store.Connect(connection.ConnectionConfig{Dialect: connection.DialectS3, Bucket: "plotly-s3-connector-test"}))
	return store
}

func TestS3ListFiles(t *testing.T) {
	store := newFakeS3DB(t)
	files, err := store.ListFiles()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "A.csv", files[0].Key)
	assert.Equal(t, "2016-10-09T17:29:49Z", files[0].LastModified)
}

func TestS3QueryParsesCSVObject(t *testing.T) {
	store := newFakeS3DB(t)
	rows, fields, err := store.Query("A.csv")
	require.NoError(t, err)
	grid := Parse(rows, fields)
	assert.Equal(t, []string{"x", "y"}, grid.ColumnNames)
	assert.Equal(t, 3, grid.NRows)
	assert.Equal(t, []interface{}{"3", "4"}, grid.Rows[1])

	rows, _, err = store.Preview("A.csv", 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, fields, err = store.Query("B.csv")
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, fields)
}

func TestS3ConnectRequiresBucket(t *testing.T) {
	err := (&S3DB{client: &fakeS3{}}).Connect(connection.ConnectionConfig{Dialect: connection.DialectS3})
	assert.EqualError(t, err, "S3 connection requires a bucket")

	err = (&S3DB{client: &fakeS3{}}).Connect(connection.ConnectionConfig{Dialect: connection.DialectS3, Bucket: "other"})
	assert.Error(t, err)
}
