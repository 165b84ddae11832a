package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/gaming-ingest/internal/config"
	"github.com/richardliu001/gaming-ingest/internal/dimension"
	"github.com/richardliu001/gaming-ingest/internal/logger"
	"github.com/richardliu001/gaming-ingest/internal/pipeline"
	"github.com/richardliu001/gaming-ingest/internal/repo"
	"github.com/richardliu001/gaming-ingest/internal/source"
	httptransport "github.com/richardliu001/gaming-ingest/internal/transport/http"

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
	stdin := flag.Bool("stdin", false, "read JSON lines from stdin instead of Kafka")
	flag.Parse()

	log, err := logger.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Errorw("load config", "error", err)
		return 1
	}
	if !*stdin && (len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "") {
		log.Errorw("configure source", "error",
			&config.ConfigError{Field: "kafka", Msg: "brokers and topic are required unless -stdin is set"})
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Errorw("open postgres", "error", err)
		return 1
	}

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
		Path:       config.PathStream,
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

	var src source.Source
	if *stdin {
		ls := source.NewLineSource(os.Stdin, "stdin")
		defer ls.Close()
		src = ls
	} else {
		ks := source.NewKafkaSource(cfg.Kafka)
		defer ks.Close()
		src = ks
		log.Infow("consuming", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic, "group_id", cfg.Kafka.GroupID)
	}

	if cfg.Server.Port > 0 {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           httptransport.NewRouter(p.Snapshot, cfg.RateLimit, log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Infof("status server listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorw("status server", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sum, err := p.Run(ctx, src)
	sum.Log(log)
	if err != nil {
		return 1
	}
	return 0
}
