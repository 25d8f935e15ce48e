// Package main 是应用程序的入口点。
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"semantic-search-go/internal/config"
	"semantic-search-go/internal/handler"
	"semantic-search-go/internal/pipeline"
	"semantic-search-go/internal/service"
	"semantic-search-go/pkg/kafka"
	"semantic-search-go/pkg/log"
	"semantic-search-go/pkg/storage"
	"semantic-search-go/pkg/tika"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "semsearch",
		Short:         "Semantic search over short text documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env 只用于本地开发，缺失时忽略
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to load .env: %w", err)
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			config.Conf = *cfg
			return log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			log.Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "./configs/config.yaml", "path to the YAML config file (optional)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP API (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "init-db",
			Short: "Create the vector extension, table and index, then exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				a := newApp(&config.Conf)
				defer a.close()
				if err := a.initStore(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "vector store ready")
				return nil
			},
		},
		newAddCmd(),
		newQueryCmd(),
	)
	return root
}

func newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <text>...",
		Short: "Embed and store documents, printing their ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(&config.Conf)
			defer a.close()
			if err := a.prepare(cmd.Context()); err != nil {
				return err
			}
			ids, err := a.docService.AddDocuments(cmd.Context(), args)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{"document_ids": ids})
		},
	}
}

func newQueryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Print the documents most similar to a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(&config.Conf)
			defer a.close()
			if err := a.prepare(cmd.Context()); err != nil {
				return err
			}
			results, err := a.searchService.Query(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{"results": results})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of results (0 uses search.default_limit)")
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := &config.Conf
	a := newApp(cfg)
	defer a.close()

	// 1. 并发加载模型与初始化存储，任一失败则不提供服务
	if err := a.prepare(ctx); err != nil {
		log.Errorf("启动失败: %v", err)
		return err
	}

	// 2. 可选的异步导入流程：MinIO 暂存文件，Kafka 投递任务，Tika 提取文本
	g, gctx := errgroup.WithContext(ctx)
	var uploadService service.UploadService
	if cfg.MinIO.Enabled && cfg.Kafka.Enabled {
		store, err := storage.InitMinIO(ctx, cfg.MinIO)
		if err != nil {
			return err
		}
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		uploadService = service.NewUploadService(store, producer)

		processor := pipeline.NewProcessor(store, tika.NewClient(cfg.Tika), a.docService)
		consumer := kafka.NewConsumer(cfg.Kafka, processor, a.rdb)
		g.Go(func() error { return consumer.Run(gctx) })
	}

	// 3. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(
		handler.NewDocumentHandler(a.docService, uploadService),
		handler.NewSearchHandler(a.searchService),
		handler.NewHealthHandler(a.docRepo),
	)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP 服务监听失败: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("接收到停机信号，正在关闭服务...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Errorf("服务异常退出: %v", err)
		return err
	}
	log.Info("服务已优雅关闭")
	return nil
}
