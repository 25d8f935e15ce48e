package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"semantic-search-go/internal/errs"
	"semantic-search-go/pkg/tasks"
)

type memObjectStore struct {
	objects map[string]string
	types   map[string]string
	err     error
}

func (s *memObjectStore) PutObject(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	if s.err != nil {
		return s.err
	}
	b, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.objects[objectName] = string(b)
	s.types[objectName] = contentType
	return nil
}

func (s *memObjectStore) GetObject(ctx context.Context, objectName string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(s.objects[objectName])), nil
}

type recordingProducer struct {
	tasks []tasks.ImportTask
	err   error
}

func (p *recordingProducer) ProduceImportTask(ctx context.Context, task tasks.ImportTask) error {
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

// multipartFiles 按 name, content 成对的参数构造 "files" 表单字段。
func multipartFiles(t *testing.T, nameContent ...string) []*multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for i := 0; i+1 < len(nameContent); i += 2 {
		part, err := w.CreateFormFile("files", nameContent[i])
		require.NoError(t, err)
		_, err = io.WriteString(part, nameContent[i+1])
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req, err := http.NewRequest(http.MethodPost, "/documents/upload", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	return req.MultipartForm.File["files"]
}

func TestSubmit_StoresFilesAndEnqueuesTask(t *testing.T) {
	store := &memObjectStore{objects: map[string]string{}, types: map[string]string{}}
	producer := &recordingProducer{}
	svc := NewUploadService(store, producer)

	resp, err := svc.Submit(context.Background(), multipartFiles(t, "notes.txt", "The cat sat on the mat."))
	require.NoError(t, err)
	require.NotEmpty(t, resp.TaskID)

	objectName := "uploads/" + resp.TaskID + "/0-notes.txt"
	assert.Equal(t, []string{objectName}, resp.Objects)
	assert.Equal(t, "The cat sat on the mat.", store.objects[objectName])
	assert.Equal(t, "application/octet-stream", store.types[objectName])

	require.Len(t, producer.tasks, 1)
	assert.Equal(t, tasks.ImportTask{TaskID: resp.TaskID, ObjectNames: []string{objectName}}, producer.tasks[0])
}

func TestSubmit_SameFileNameKeepsBothFiles(t *testing.T) {
	store := &memObjectStore{objects: map[string]string{}, types: map[string]string{}}
	producer := &recordingProducer{}
	svc := NewUploadService(store, producer)

	resp, err := svc.Submit(context.Background(), multipartFiles(t,
		"notes.txt", "first file",
		"notes.txt", "second file",
	))
	require.NoError(t, err)

	require.Len(t, resp.Objects, 2)
	assert.NotEqual(t, resp.Objects[0], resp.Objects[1])
	assert.Equal(t, "first file", store.objects[resp.Objects[0]])
	assert.Equal(t, "second file", store.objects[resp.Objects[1]])
	require.Len(t, producer.tasks, 1)
	assert.Equal(t, resp.Objects, producer.tasks[0].ObjectNames)
}

func TestSubmit_RejectsEmptyUpload(t *testing.T) {
	producer := &recordingProducer{}
	svc := NewUploadService(&memObjectStore{}, producer)

	_, err := svc.Submit(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errs.IsClientError(err))
	assert.Empty(t, producer.tasks)
}

func TestSubmit_StorageOrQueueFailure(t *testing.T) {
	files := multipartFiles(t, "a.txt", "a")

	producer := &recordingProducer{}
	svc := NewUploadService(&memObjectStore{err: errors.New("minio: access denied")}, producer)
	_, err := svc.Submit(context.Background(), files)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Empty(t, producer.tasks)

	store := &memObjectStore{objects: map[string]string{}, types: map[string]string{}}
	svc = NewUploadService(store, &recordingProducer{err: errors.New("kafka: leader not available")})
	_, err = svc.Submit(context.Background(), files)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to enqueue import task")
	assert.False(t, errs.IsClientError(err))
}
