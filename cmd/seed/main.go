// seed 开通会话：读取 YAML 种子文件，逐条写入 PostgreSQL，已存在的 employeeKey 跳过。
//
//	go run ./cmd/seed -file configs/seed.yaml
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"sudooom.hrchat/internal/config"
	"sudooom.hrchat/internal/seed"
	"sudooom.hrchat/internal/store/postgres"
)

func main() {
	configFile := flag.String("config", "configs/config.yaml", "config file")
	seedFile := flag.String("file", "configs/seed.yaml", "seed file")
	flag.Parse()

	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	f, err := seed.Load(*seedFile)
	if err != nil {
		logger.Error("Failed to read seed file", "file", *seedFile, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	// 不传 emitter：数据库触发器负责通知运行中的服务
	st := postgres.New(db, int64(cfg.App.NodeID), nil)
	defer st.Close()

	if err := st.EnsureSchema(ctx, cfg.Feed.Channel); err != nil {
		logger.Error("Failed to apply schema", "error", err)
		os.Exit(1)
	}

	res, err := seed.Apply(ctx, st, f)
	if err != nil {
		logger.Error("Seeding failed", "error", err, "created", res.Created)
		os.Exit(1)
	}
	logger.Info("Seeding completed", "created", res.Created, "skipped", res.Skipped)
}
