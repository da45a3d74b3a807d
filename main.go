package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/turmony/douBao/internal/api"
	"github.com/turmony/douBao/internal/client"
	"github.com/turmony/douBao/internal/config"
	"github.com/turmony/douBao/internal/pkg/ark"
	"github.com/turmony/douBao/internal/pkg/banner"
	"github.com/turmony/douBao/internal/pkg/database"
	"github.com/turmony/douBao/internal/pkg/logger"
	"github.com/turmony/douBao/internal/pkg/notify"
	"github.com/turmony/douBao/internal/pkg/storage"
	"github.com/turmony/douBao/internal/router"
	"github.com/turmony/douBao/internal/service"
)

// 版本信息，编译时通过 ldflags 设置
var (
	Version    = "v0.1.0"
	CommitHash = "unknown"
	BuildTime  = "unknown"
)

func main() {
	// .env 不存在时忽略
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:    "douBao",
		Usage:   "截图绑定与豆包图片分析服务",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			configPath := cmd.String("config")

			// 如果未指定配置文件，尝试从默认位置加载
			if configPath == "" && os.Getenv("CONFIG_PATH") == "" {
				possiblePaths := []string{
					"config.yaml",
					filepath.Join("config", "config.yaml"),
				}

				found := false
				for _, path := range possiblePaths {
					if _, err := os.Stat(path); err == nil {
						configPath = path
						found = true
						break
					}
				}

				if !found {
					return fmt.Errorf("未指定配置文件且未找到默认配置文件(config.yaml或config/config.yaml)")
				}
			}

			// 将配置文件路径设置到环境变量中，供config包读取
			if configPath != "" {
				os.Setenv("CONFIG_PATH", configPath)
			}

			return startApp(ctx)
		},
		Commands: []*cli.Command{
			uploadCommand(),
			watchCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("应用程序运行失败: %v", err)
	}
}

// startApp 启动 HTTP 服务，收到退出信号后等待在途分析任务结束
func startApp(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("加载配置失败: %v", err)
	}

	if err := logger.Setup(); err != nil {
		return fmt.Errorf("初始化日志系统失败: %v", err)
	}
	defer logger.Sync()

	banner.Print(Version, CommitHash, BuildTime)
	logger.Info("配置加载完成")

	if err := database.Setup(); err != nil {
		return fmt.Errorf("数据库初始化失败: %v", err)
	}
	logger.Info("数据库初始化完成")

	store, err := storage.NewDiskStore(cfg.Storage.Root, cfg.Storage.PublicURL, cfg.Storage.Secret)
	if err != nil {
		return fmt.Errorf("存储初始化失败: %v", err)
	}

	var notifier notify.Notifier = notify.NewHub()
	if cfg.Redis.URL != "" {
		rdb, err := notify.NewRedis(cfg.Redis.URL, cfg.Redis.PoolSize)
		if err != nil {
			return fmt.Errorf("Redis初始化失败: %v", err)
		}
		defer rdb.Close()
		notifier = rdb
		logger.Info("会话推送使用 Redis")
	}

	analyzer := ark.NewClient(ark.Options{
		APIURL:              cfg.Ark.APIURL,
		APIKey:              cfg.Ark.APIKey,
		Model:               cfg.Ark.ModelName,
		MaxCompletionTokens: cfg.Ark.MaxCompletionTokens,
		Prompt:              cfg.Ark.PromptText,
		ReasoningEffort:     cfg.Ark.ReasoningEffort,
	}, &http.Client{})
	if cfg.Ark.APIKey == "" {
		logger.Warn("未配置 ARK_API_KEY，图片分析将失败")
	}

	service.Setup(cfg, store, analyzer, notifier)

	service.Cron.Start()
	defer service.Cron.Stop()
	logger.Info("定时任务启动完成")

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	router.SetupRoutes(r)
	logger.Info("路由设置完成")

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}
	// Shutdown 不会取消进行中请求的 context，SSE 连接需要单独断开
	srv.RegisterOnShutdown(api.CloseWatchers)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("服务器启动中，端口: %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("服务器启动失败: %v", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("正在关闭服务器...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("关闭服务器失败: %v", err)
		}

		jobsCtx, cancelJobs := context.WithTimeout(context.Background(), max(cfg.Ark.Timeout, cfg.Ark.StreamTimeout)+10*time.Second)
		defer cancelJobs()
		if err := service.Jobs.Wait(jobsCtx); err != nil {
			logger.Warnf("等待分析任务结束超时: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func uploadCommand() *cli.Command {
	return &cli.Command{
		Name:  "upload",
		Usage: "用绑定码上传一张截图",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: "http://127.0.0.1:8080", Usage: "服务地址"},
			&cli.StringFlag{Name: "code", Usage: "6位绑定码"},
			&cli.StringFlag{Name: "file", Usage: "截图文件路径"},
			&cli.StringFlag{Name: "mode", Value: client.ModeDirect, Usage: "上传方式: direct, grant, base64"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			api := client.NewAPI(cmd.String("server"), "", &http.Client{Timeout: 60 * time.Second})
			uploader := client.NewUploader(api, cmd.String("mode"))

			fileID, err := uploader.UploadFile(ctx, cmd.String("code"), cmd.String("file"))
			if err != nil {
				return err
			}
			fmt.Printf("上传成功，正在分析中: %s\n", fileID)
			return nil
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "在终端中查看分析结果",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: "http://127.0.0.1:8080", Usage: "服务地址"},
			&cli.StringFlag{Name: "token", Usage: "小程序登录后获得的 token"},
			&cli.DurationFlag{Name: "poll", Value: 3 * time.Second, Usage: "轮询间隔"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.String("token") == "" {
				return errors.New("缺少 --token")
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			var (
				mu   sync.Mutex
				last string
			)
			api := client.NewAPI(cmd.String("server"), cmd.String("token"), &http.Client{})
			w := client.NewWatcher(api, cmd.Duration("poll"), func(v client.View) {
				mu.Lock()
				defer mu.Unlock()
				out := client.Render(v, time.Now())
				if out != last {
					fmt.Print("\033[H\033[2J" + out)
					last = out
				}
			})
			return w.Run(ctx)
		},
	}
}
