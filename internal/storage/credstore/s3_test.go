package credstore

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakeS3 serves the path-style subset of the S3 API used by S3Backup.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

type listBucketResult struct {
	XMLName     xml.Name `xml:"ListBucketResult"`
	Name        string   `xml:"Name"`
	Prefix      string   `xml:"Prefix"`
	KeyCount    int      `xml:"KeyCount"`
	IsTruncated bool     `xml:"IsTruncated"`
	Contents    []struct {
		Key  string `xml:"Key"`
		Size int    `xml:"Size"`
	} `xml:"Contents"`
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	if bucket != f.bucket {
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket")
		return
	}

	switch {
	case r.Method == http.MethodGet && key == "" && r.URL.Query().Get("list-type") == "2":
		prefix := r.URL.Query().Get("prefix")
		res := listBucketResult{Name: bucket, Prefix: prefix}
		keys := make([]string, 0, len(f.objects))
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			res.Contents = append(res.Contents, struct {
				Key  string `xml:"Key"`
				Size int    `xml:"Size"`
			}{Key: k, Size: len(f.objects[k])})
		}
		res.KeyCount = len(res.Contents)
		w.Header().Set("Content-Type", "application/xml")
		_ = xml.NewEncoder(w).Encode(res)
	case r.Method == http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeS3Error(w, http.StatusBadRequest, "InvalidRequest")
			return
		}
		f.objects[key] = data
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeS3Error(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

func writeS3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>`+code+`</Code><Message>`+code+`</Message></Error>`)
}

func newTestS3Backup(t *testing.T) (*S3Backup, *fakeS3) {
	t.Helper()
	fake := &fakeS3{bucket: "wamesh", objects: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:                     "us-east-1",
		BaseEndpoint:               aws.String(srv.URL),
		UsePathStyle:               true,
		Credentials:                aws.AnonymousCredentials{},
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
	sealer, err := NewSealer("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewS3Backup(client, "wamesh", "/prod/sessions/", sealer)
	if err != nil {
		t.Fatal(err)
	}
	return b, fake
}

func TestS3Backup(t *testing.T) {
	ctx := context.Background()
	b, fake := newTestS3Backup(t)

	if err := b.Put(ctx, "s1", []byte("blob-1")); err != nil {
		t.Fatal(err)
	}
	if err := b.Put(ctx, "s2", []byte("blob-2")); err != nil {
		t.Fatal(err)
	}
	fake.mu.Lock()
	fake.objects["prod/sessions/nested/x.bundle"] = []byte("ignored")
	fake.objects["prod/sessions/readme.txt"] = []byte("ignored")
	_, ok := fake.objects["prod/sessions/s1.bundle"]
	fake.mu.Unlock()
	if !ok {
		t.Fatal("expected object at prod/sessions/s1.bundle")
	}

	got, err := b.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "blob-1" {
		t.Errorf("expected blob-1, got %q", got)
	}

	ids, err := b.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "s1" || ids[1] != "s2" {
		t.Errorf("expected [s1 s2], got %v", ids)
	}

	if err := b.Delete(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Get(ctx, "s1"); !errors.Is(err, ErrBackupNotFound) {
		t.Errorf("expected ErrBackupNotFound, got %v", err)
	}
}

func TestNewS3Backup_Validation(t *testing.T) {
	sealer, err := NewSealer("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewS3Backup(nil, "", "p", sealer); err == nil {
		t.Error("expected error for empty bucket")
	}
	if _, err := NewS3Backup(nil, "b", "p", nil); err == nil {
		t.Error("expected error for nil sealer")
	}
}
