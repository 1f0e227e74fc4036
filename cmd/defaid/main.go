package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"DeFAI-Gateway/internal/agent"
	"DeFAI-Gateway/internal/api"
	"DeFAI-Gateway/internal/config"
	"DeFAI-Gateway/internal/defi"
	"DeFAI-Gateway/internal/explorer"
	"DeFAI-Gateway/internal/llm"
	"DeFAI-Gateway/internal/llm/gemini"
	"DeFAI-Gateway/internal/llm/openai"
	"DeFAI-Gateway/internal/notify"
	"DeFAI-Gateway/internal/oracle"
	"DeFAI-Gateway/internal/risk"
	"DeFAI-Gateway/internal/session"
	"DeFAI-Gateway/internal/storage/mysql"
	"DeFAI-Gateway/internal/web3"
	"DeFAI-Gateway/internal/web3/ethereum"
	"DeFAI-Gateway/pkg/logger"
)

// main 是 defaid 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("defaid 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("DEFAI_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "defai.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditPath != "",
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	// 大模型客户端
	aiClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	// 链上访问
	chain, err := ethereum.NewClient(ctx, ethereum.Config{RPCURL: cfg.Web3.RPCURL})
	if err != nil {
		return err
	}
	defer chain.Close()

	registry, err := web3.LoadTokenRegistry(cfg.Web3.TokensPath)
	if err != nil {
		return err
	}

	builder, err := defi.NewBuilder(chain, registry)
	if err != nil {
		return err
	}

	feed, err := oracle.NewPriceFeed(chain, cfg.Oracle.ContractAddress)
	if err != nil {
		return err
	}

	// 区块浏览器
	var explorerClient explorer.Service
	if cfg.Explorer.DemoMode || cfg.Explorer.BaseURL == "" {
		explorerClient = explorer.Stub{}
	} else {
		explorerClient, err = explorer.NewHTTPClient(explorer.Config{
			BaseURL: cfg.Explorer.BaseURL,
			APIKey:  cfg.Explorer.APIKey,
			Timeout: time.Duration(cfg.Explorer.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
	}

	// 合约风险报告缓存
	var reportCache risk.Cache
	switch cfg.Cache.Driver {
	case "", "memory":
		reportCache = risk.NewMemoryCache()
	case "redis":
		redisCache, err := risk.NewRedisCache(risk.RedisCacheConfig{
			Address:  cfg.Cache.Address,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		if err != nil {
			return err
		}
		defer redisCache.Close()
		reportCache = redisCache
	default:
		return fmt.Errorf("不支持的缓存驱动: %s", cfg.Cache.Driver)
	}

	// 风控
	validator := risk.NewValidator(chain, aiClient, cfg.Risk.ScamAddresses, cfg.Risk.KnownSafeAddresses)
	analyzer := risk.NewAnalyzer(chain, explorerClient, aiClient, reportCache, cfg.Risk.KnownSafeAddresses)

	// 操作历史
	var historyRepo mysql.HistoryRepository
	switch cfg.Storage.History.Driver {
	case "", "memory":
		historyRepo, err = mysql.NewMemoryHistoryRepository(cfg.Runtime.DataDir)
		if err != nil {
			return err
		}
	case "mysql":
		sqlRepo, err := mysql.NewSQLHistoryRepository(cfg.Storage.History.DSN)
		if err != nil {
			return err
		}
		defer sqlRepo.Close()
		historyRepo = sqlRepo
	default:
		return fmt.Errorf("不支持的历史存储驱动: %s", cfg.Storage.History.Driver)
	}

	// 事件通知
	var publisher notify.Publisher
	switch cfg.Notify.Driver {
	case "", "none":
		publisher = notify.Noop{}
	case "rabbitmq":
		rabbit, err := notify.NewRabbitMQPublisher(notify.RabbitMQConfig{
			URL:     cfg.Notify.URL,
			Queue:   cfg.Notify.Queue,
			Durable: true,
		})
		if err != nil {
			return err
		}
		defer rabbit.Close()
		publisher = rabbit
	default:
		return fmt.Errorf("不支持的通知驱动: %s", cfg.Notify.Driver)
	}

	router, err := agent.New(aiClient, chain, chain, builder, validator, analyzer, session.NewStore(),
		agent.WithPriceFeed(feed),
		agent.WithHistory(historyRepo),
		agent.WithNotifier(publisher),
	)
	if err != nil {
		return err
	}

	logger.L().Info("defaid 启动", "address", cfg.Server.Address)
	server := api.NewServer(cfg.Server.Address, router)
	return server.Start(ctx)
}

// createLLMClient 根据配置选择大模型 provider。
func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "", "openai":
		provider := cfg.LLM.OpenAI
		return openai.NewClient(openai.Config{
			APIKey:  resolveAPIKey(provider),
			BaseURL: provider.BaseURL,
			Model:   provider.Model,
			Timeout: provider.Timeout(),
		})
	case "gemini":
		provider := cfg.LLM.Gemini
		return gemini.NewClient(gemini.Config{
			APIKey:  resolveAPIKey(provider),
			BaseURL: provider.BaseURL,
			Model:   provider.Model,
			Timeout: provider.Timeout(),
		})
	default:
		return nil, fmt.Errorf("不支持的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func resolveAPIKey(provider config.ProviderConfig) string {
	if provider.APIKey != "" {
		return provider.APIKey
	}
	if provider.APIKeyEnv != "" {
		return os.Getenv(provider.APIKeyEnv)
	}
	return ""
}
