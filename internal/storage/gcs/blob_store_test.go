package gcs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

type fakeWriter struct {
	bytes.Buffer
	closed   bool
	closeErr error
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return w.closeErr
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func newFakeStore(w *fakeWriter, gotObject, gotType *string) *BlobStore {
	return &BlobStore{
		bucket: "raw-bucket",
		open: func(_ context.Context, object, contentType string) io.WriteCloser {
			*gotObject, *gotType = object, contentType
			return w
		},
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	var object, contentType string
	w := &fakeWriter{}
	store := newFakeStore(w, &object, &contentType)

	uri, err := store.PutObject(context.Background(), "/raw/job-1/abc.html", "text/html", strings.NewReader("<html>"))
	require.NoError(t, err)
	require.Equal(t, "gs://raw-bucket/raw/job-1/abc.html", uri)
	require.Equal(t, "raw/job-1/abc.html", object)
	require.Equal(t, "text/html", contentType)
	require.Equal(t, "<html>", w.String())
	require.True(t, w.closed)
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	var object, contentType string
	store := newFakeStore(&fakeWriter{}, &object, &contentType)
	_, err := store.PutObject(context.Background(), "  ", "", strings.NewReader("x"))
	require.Error(t, err)

	w := &fakeWriter{}
	store = newFakeStore(w, &object, &contentType)
	_, err = store.PutObject(context.Background(), "a", "", failingReader{})
	require.ErrorContains(t, err, "disk gone")
	require.True(t, w.closed)

	store = newFakeStore(&fakeWriter{closeErr: errors.New("bucket gone")}, &object, &contentType)
	_, err = store.PutObject(context.Background(), "a", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "bucket gone")
}

func TestPutObjectExistingDigestIsStored(t *testing.T) {
	t.Parallel()

	var object, contentType string
	w := &fakeWriter{closeErr: &googleapi.Error{Code: http.StatusPreconditionFailed}}
	store := newFakeStore(w, &object, &contentType)

	uri, err := store.PutObject(context.Background(), "raw/job-2/abc.pdf", "application/pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)
	require.Equal(t, "gs://raw-bucket/raw/job-2/abc.pdf", uri)
}
