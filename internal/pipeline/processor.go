// Package pipeline 定义了异步导入的核心流程。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"semantic-search-go/internal/service"
	"semantic-search-go/pkg/log"
	"semantic-search-go/pkg/storage"
	"semantic-search-go/pkg/tasks"
)

// TextExtractor 从任意格式的文件中提取纯文本，由 Tika 客户端实现。
type TextExtractor interface {
	ExtractText(ctx context.Context, fileReader io.Reader, fileName string) (string, error)
}

// Processor 封装了导入任务处理的所有依赖和逻辑。
type Processor struct {
	store      storage.ObjectStore
	extractor  TextExtractor
	docService service.DocumentService
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(store storage.ObjectStore, extractor TextExtractor, docService service.DocumentService) *Processor {
	return &Processor{
		store:      store,
		extractor:  extractor,
		docService: docService,
	}
}

// Process 下载任务中的每个对象并提取文本，然后作为一个批次写入。
// 任何一个对象失败，整个任务都不会写入任何文档。
func (p *Processor) Process(ctx context.Context, task tasks.ImportTask) error {
	log.Infof("[Processor] 开始处理导入任务, TaskID: %s, 对象数: %d", task.TaskID, len(task.ObjectNames))
	if len(task.ObjectNames) == 0 {
		return errors.New("导入任务不包含任何对象")
	}

	texts := make([]string, 0, len(task.ObjectNames))
	for i, objectName := range task.ObjectNames {
		text, err := p.extract(ctx, objectName)
		if err != nil {
			log.Errorf("[Processor] 对象 %d/%d 处理失败, Object: %s, Error: %v", i+1, len(task.ObjectNames), objectName, err)
			return err
		}
		log.Infof("[Processor] 对象 %d/%d 文本提取成功, 内容长度: %d 字符", i+1, len(task.ObjectNames), utf8.RuneCountInString(text))
		texts = append(texts, text)
	}

	ids, err := p.docService.AddDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("写入导入文档失败: %w", err)
	}
	log.Infof("[Processor] 导入任务完成, TaskID: %s, 文档IDs: %v", task.TaskID, ids)
	return nil
}

func (p *Processor) extract(ctx context.Context, objectName string) (string, error) {
	object, err := p.store.GetObject(ctx, objectName)
	if err != nil {
		return "", err
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	size, err := buf.ReadFrom(object)
	if err != nil {
		return "", fmt.Errorf("读取对象 '%s' 失败: %w", objectName, err)
	}
	if size == 0 {
		return "", fmt.Errorf("对象 '%s' 内容为空", objectName)
	}

	var text string
	switch strings.ToLower(filepath.Ext(objectName)) {
	case ".txt", ".md":
		if !utf8.Valid(buf.Bytes()) {
			return "", fmt.Errorf("对象 '%s' 不是有效的 UTF-8 文本", objectName)
		}
		text = buf.String()
	default:
		text, err = p.extractor.ExtractText(ctx, bytes.NewReader(buf.Bytes()), filepath.Base(objectName))
		if err != nil {
			return "", fmt.Errorf("使用 Tika 提取文本失败: %w", err)
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("对象 '%s' 提取的文本内容为空", objectName)
	}
	return text, nil
}
