package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"semantic-search-go/internal/config"
	"semantic-search-go/internal/repository"
	"semantic-search-go/internal/service"
	"semantic-search-go/pkg/database"
	"semantic-search-go/pkg/embedding"
	"semantic-search-go/pkg/es"
	"semantic-search-go/pkg/log"
)

// app 持有进程生命周期内共享的依赖：一个模型句柄、一个存储连接池。
type app struct {
	cfg *config.Config

	db  *gorm.DB
	rdb *redis.Client

	model    *embedding.Model
	embedder embedding.Client
	docRepo  repository.DocumentRepository

	docService    service.DocumentService
	searchService service.SearchService
}

func newApp(cfg *config.Config) *app {
	model := embedding.NewModel(cfg.Embedding)
	return &app{cfg: cfg, model: model, embedder: model}
}

// initStore 连接 Redis（如启用）与向量存储，并确保表结构/索引存在。
func (a *app) initStore(ctx context.Context) error {
	if a.cfg.Database.Redis.Enabled {
		rdb, err := database.InitRedis(ctx, a.cfg.Database.Redis)
		if err != nil {
			return err
		}
		a.rdb = rdb
	}

	dims := a.cfg.Embedding.Dimensions
	switch a.cfg.Store.Driver {
	case config.StoreElasticsearch:
		client, err := es.InitES(ctx, a.cfg.Elasticsearch)
		if err != nil {
			return err
		}
		a.docRepo = repository.NewESDocumentRepository(client, a.rdb, a.cfg.Elasticsearch.IndexName, dims)
	default:
		db, err := database.InitPostgres(ctx, a.cfg.Database.Postgres)
		if err != nil {
			return err
		}
		a.db = db
		a.docRepo = repository.NewDocumentRepository(db, dims, a.cfg.Store.HNSWIndex)
	}

	if err := a.docRepo.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialise vector store: %w", err)
	}
	return nil
}

// prepare 并发地加载模型与初始化存储，两者都成功后组装服务。
func (a *app) prepare(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.initStore(gctx) })
	g.Go(func() error { return a.model.Load(gctx) })
	if err := g.Wait(); err != nil {
		return err
	}

	if a.rdb != nil && a.cfg.Embedding.CacheTTL > 0 {
		a.embedder = embedding.NewCachedClient(a.model, a.rdb, a.cfg.Embedding.CacheTTL)
		log.Infof("[App] 已启用 embedding 缓存, TTL: %s", a.cfg.Embedding.CacheTTL)
	}
	a.docService = service.NewDocumentService(a.embedder, a.docRepo)
	a.searchService = service.NewSearchService(a.embedder, a.docRepo, a.cfg.Search)
	return nil
}

func (a *app) close() {
	if a.db != nil {
		database.Close(a.db)
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			log.Warnf("[App] 关闭 Redis 连接失败: %v", err)
		}
	}
}
