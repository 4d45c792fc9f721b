package s3blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjectAPI struct {
	puts    []*s3.PutObjectInput
	bodies  []string
	putErr  error
	headErr error
}

func (f *fakeObjectAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts = append(f.puts, in)
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjectAPI) HeadBucket(_ context.Context, _ *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		endpoint string
		useSSL   bool
		want     string
	}{
		{"http://minio:9000", true, "http://minio:9000"},
		{"https://s3.example.com", false, "https://s3.example.com"},
		{"s3.example.com", true, "https://s3.example.com"},
		{"localhost:9000", false, "http://localhost:9000"},
		{"minio:9000", true, "https://minio:9000"},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, endpointURL(tt.endpoint, tt.useSSL))
		})
	}
}

func TestJournal_Put(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "settlements/2024/03/01/o.json"},
		{"prod", "prod/settlements/2024/03/01/o.json"},
		{"/prod/", "prod/settlements/2024/03/01/o.json"},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			api := &fakeObjectAPI{}
			j := newJournal(api, "ledger", tt.prefix)

			require.NoError(t, j.Put(context.Background(), "settlements/2024/03/01/o.json", strings.NewReader(`{"a":1}`), "application/json"))
			require.Len(t, api.puts, 1)
			assert.Equal(t, "ledger", aws.ToString(api.puts[0].Bucket))
			assert.Equal(t, tt.want, aws.ToString(api.puts[0].Key))
			assert.Equal(t, "application/json", aws.ToString(api.puts[0].ContentType))
			assert.Equal(t, `{"a":1}`, api.bodies[0])
		})
	}
}

func TestJournal_Errors(t *testing.T) {
	denied := errors.New("access denied")
	j := newJournal(&fakeObjectAPI{putErr: denied, headErr: denied}, "ledger", "")

	err := j.Put(context.Background(), "o.json", strings.NewReader("{}"), "application/json")
	assert.ErrorIs(t, err, denied)
	assert.ErrorContains(t, err, "ledger/o.json")

	assert.ErrorIs(t, j.Health(context.Background()), denied)
}

func TestNew_RequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), Config{Region: "us-east-1"})
	require.Error(t, err)

	_, err = New(context.Background(), Config{Bucket: "ledger"})
	require.Error(t, err)
}
