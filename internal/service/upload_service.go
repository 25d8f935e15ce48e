package service

import (
	"context"
	"fmt"
	"mime/multipart"
	"path/filepath"

	"github.com/google/uuid"

	"semantic-search-go/internal/errs"
	"semantic-search-go/internal/model"
	"semantic-search-go/pkg/kafka"
	"semantic-search-go/pkg/log"
	"semantic-search-go/pkg/storage"
	"semantic-search-go/pkg/tasks"
)

// UploadService 接口定义了异步导入的受理操作。
type UploadService interface {
	// Submit 将文件存入对象存储并投递一个导入任务，文档在后台写入。
	Submit(ctx context.Context, files []*multipart.FileHeader) (*model.UploadResponse, error)
}

type uploadService struct {
	store    storage.ObjectStore
	producer kafka.TaskProducer
}

// NewUploadService 创建一个新的 UploadService 实例。
func NewUploadService(store storage.ObjectStore, producer kafka.TaskProducer) UploadService {
	return &uploadService{store: store, producer: producer}
}

func (s *uploadService) Submit(ctx context.Context, files []*multipart.FileHeader) (*model.UploadResponse, error) {
	if len(files) == 0 {
		return nil, errs.Validationf("at least one file is required")
	}

	taskID := uuid.NewString()
	objectNames := make([]string, 0, len(files))
	for i, fh := range files {
		name := filepath.Base(fh.Filename)
		if name == "." || name == string(filepath.Separator) {
			return nil, errs.Validationf("invalid file name %q", fh.Filename)
		}
		// 序号前缀保证同名文件不会互相覆盖
		objectName := fmt.Sprintf("uploads/%s/%d-%s", taskID, i, name)
		if err := s.putFile(ctx, objectName, fh); err != nil {
			log.Errorf("[UploadService] 上传文件到 MinIO 失败, Object: %s, Error: %v", objectName, err)
			return nil, err
		}
		objectNames = append(objectNames, objectName)
	}

	task := tasks.ImportTask{TaskID: taskID, ObjectNames: objectNames}
	if err := s.producer.ProduceImportTask(ctx, task); err != nil {
		log.Errorf("[UploadService] 发送导入任务到 Kafka 失败, TaskID: %s, Error: %v", taskID, err)
		return nil, fmt.Errorf("failed to enqueue import task: %w", err)
	}
	log.Infof("[UploadService] 导入任务已投递, TaskID: %s, 文件数: %d", taskID, len(objectNames))
	return &model.UploadResponse{TaskID: taskID, Objects: objectNames}, nil
}

func (s *uploadService) putFile(ctx context.Context, objectName string, fh *multipart.FileHeader) error {
	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return s.store.PutObject(ctx, objectName, f, fh.Size, contentType)
}
