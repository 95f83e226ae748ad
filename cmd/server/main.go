// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Corphon/AdaptBrain/internal/api"
	"github.com/Corphon/AdaptBrain/internal/config"
	"github.com/Corphon/AdaptBrain/internal/di"
	"github.com/Corphon/AdaptBrain/internal/services"
	"github.com/Corphon/AdaptBrain/internal/storage"
	"github.com/Corphon/AdaptBrain/internal/utils"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "adaptbrain",
		Short:         "漫改智脑：小说到动漫脚本的改编工作台",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "配置文件路径（yaml/json/toml）")
	flags.String("data-dir", "data", "数据目录")
	flags.String("log-dir", "logs", "日志目录")
	flags.String("storage", storage.BackendFile, "存储后端: file 或 sqlite")
	flags.Bool("debug", false, "调试模式")

	v := config.Viper()
	_ = v.BindPFlag("config_file", flags.Lookup("config"))
	_ = v.BindPFlag("data_dir", flags.Lookup("data-dir"))
	_ = v.BindPFlag("log_dir", flags.Lookup("log-dir"))
	_ = v.BindPFlag("storage_backend", flags.Lookup("storage"))
	_ = v.BindPFlag("debug_mode", flags.Lookup("debug"))

	serve := &cobra.Command{
		Use:   "serve",
		Short: "启动HTTP服务（默认命令）",
		RunE:  runServe,
	}
	serve.Flags().String("port", "8080", "监听端口")
	_ = v.BindPFlag("port", serve.Flags().Lookup("port"))

	root.AddCommand(serve, newMigrateCmd())
	return root
}

// setup 加载配置并初始化日志
func setup() (*config.AppConfig, error) {
	if err := config.InitConfig(""); err != nil {
		return nil, fmt.Errorf("初始化配置系统失败: %w", err)
	}
	cfg := config.GetCurrentConfig()

	logger := utils.GetLogger()
	if err := utils.InitLogger(filepath.Join(cfg.LogDir, "adaptbrain.log")); err != nil {
		logger.Warn("日志文件初始化失败，仅输出到控制台", map[string]interface{}{"error": err})
	}
	if cfg.DebugMode {
		logger.SetLogLevel(utils.DEBUG)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	logger := utils.GetLogger()
	defer logger.Sync()

	logger.Info("启动 AdaptBrain 服务器", map[string]interface{}{
		"port":    cfg.Port,
		"storage": cfg.StorageBackend,
		"data":    cfg.DataDir,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container := di.GetContainer()
	cleanup, err := services.InitServices(ctx, container, cfg)
	if err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}
	defer cleanup()

	router, err := api.SetupRouter(ctx, container, cfg.DebugMode)
	if err != nil {
		return fmt.Errorf("设置路由失败: %w", err)
	}
	utils.GetMetricsCollector().StartMetricsCollection(ctx, 5*time.Minute)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	logger.Infof("访问地址: http://localhost:%s", cfg.Port)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("启动服务器失败: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("正在关闭服务器...", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("服务器强制关闭: %w", err)
	}
	logger.Info("服务器优雅关闭完成", nil)
	return nil
}

func newMigrateCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "在存储后端之间迁移项目数据",
		Example: "  adaptbrain migrate --from file --to sqlite\n" +
			"  adaptbrain migrate --from sqlite --to file --data-dir ./data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if from == to {
				return fmt.Errorf("源和目标存储相同: %s", from)
			}
			cfg, err := setup()
			if err != nil {
				return err
			}

			src, err := storage.Open(from, cfg.DataDir)
			if err != nil {
				return err
			}
			defer src.Close()
			dst, err := storage.Open(to, cfg.DataDir)
			if err != nil {
				return err
			}
			defer dst.Close()

			n, err := services.MigrateProjects(cmd.Context(), src, dst)
			if err != nil {
				return fmt.Errorf("迁移失败: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已迁移 %d 个项目: %s -> %s\n", n, from, to)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", storage.BackendFile, "源存储后端")
	cmd.Flags().StringVar(&to, "to", storage.BackendSQLite, "目标存储后端")
	return cmd
}
