package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/richardliu001/gaming-ingest/internal/config"
	"github.com/richardliu001/gaming-ingest/internal/dimension"
	"github.com/richardliu001/gaming-ingest/internal/logger"
	"github.com/richardliu001/gaming-ingest/internal/pipeline"
	"github.com/richardliu001/gaming-ingest/internal/repo"
	"github.com/richardliu001/gaming-ingest/internal/source"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "internal/config/config.yaml", "path to the YAML configuration")
	input := flag.String("input", "", "CSV file to ingest")
	truncate := flag.Bool("truncate", false, "replace the fact table contents instead of appending")
	initDB := flag.Bool("init-db", false, "create the schema, sentinel rows and daily aggregate first")
	flag.Parse()

	// 1. logger
	log, err := logger.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	// 2. config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Errorw("load config", "error", err)
		return 1
	}
	if *truncate {
		cfg.Batch.LoadMode = config.LoadTruncate
	}
	if *input == "" && !*initDB {
		log.Errorw("nothing to do", "error", &config.ConfigError{Field: "input", Msg: "-input is required"})
		return 1
	}

	// A signal stops reading; the open batch is still loaded.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Errorw("open postgres", "error", err)
		return 1
	}

	// 4. redis, optional
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warnw("redis unavailable, dimension cache disabled", "addr", cfg.Redis.Addr, "error", err)
			rdb = nil
		}
	}

	// 5. dead-letter writer, optional
	var kw *kafka.Writer
	if cfg.Kafka.DeadLetterTopic != "" && len(cfg.Kafka.Brokers) > 0 {
		kw = &kafka.Writer{
			Addr:     kafka.TCP(cfg.Kafka.Brokers...),
			Topic:    cfg.Kafka.DeadLetterTopic,
			Balancer: &kafka.LeastBytes{},
		}
		defer kw.Close()
	}

	repository := repo.NewRepository(gdb, rdb, kw, cfg.Redis.TTL, log)
	if *initDB {
		if err := repository.EnsureSchema(ctx); err != nil {
			log.Errorw("init schema", "error", err)
			return 1
		}
		log.Info("schema ready")
		if *input == "" {
			return 0
		}
	}

	// 6. pipeline
	var cache dimension.Cache
	if rdb != nil {
		cache = repository
	}
	var dlq pipeline.DeadLetter
	if kw != nil {
		dlq = repository
	}
	p, err := pipeline.New(pipeline.Deps{
		Config:     *cfg,
		Path:       config.PathFile,
		Store:      repository,
		Cache:      cache,
		Writer:     repository,
		DeadLetter: dlq,
		Log:        log,
	})
	if err != nil {
		log.Errorw("configure pipeline", "error", err)
		return 1
	}

	f, err := os.Open(*input)
	if err != nil {
		log.Errorw("open input", "error", err)
		return 1
	}
	src, err := source.NewCSVSource(f, "file")
	if err != nil {
		log.Errorw("read input", "file", *input, "error", err)
		return 1
	}
	defer src.Close()

	// 7. run
	sum, err := p.Run(ctx, src)
	sum.Log(log)
	if err != nil {
		return 1
	}
	return 0
}
