package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/gaming-ingest/internal/model"
	"github.com/richardliu001/gaming-ingest/internal/validate"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// insertChunk bounds the rows per INSERT statement inside one batch
// transaction.
const insertChunk = 500

const dailyMetricsView = "mv_daily_game_metrics"

const aggregateSelect = `
SELECT DATE(transaction_date) AS day, game_id, location_id,
	COUNT(*) AS total_transactions,
	SUM(amount) AS total_revenue,
	COUNT(DISTINCT user_id) AS unique_users,
	AVG(amount) AS avg_transaction_value,
	SUM(CASE WHEN transaction_type = 'purchase' THEN amount ELSE 0 END) AS purchase_revenue,
	SUM(CASE WHEN transaction_type = 'in-game' THEN amount ELSE 0 END) AS in_game_revenue,
	SUM(CASE WHEN transaction_type = 'subscription' THEN amount ELSE 0 END) AS subscription_revenue
FROM fact_transactions
GROUP BY DATE(transaction_date), game_id, location_id`

// Repository is the store adapter for both ingestion paths: dimension rows,
// fact rows, the daily aggregate, the Redis key cache and the dead-letter
// topic. rdb and writer may be nil.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	ttl    time.Duration
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, ttl time.Duration, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, ttl: ttl, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

func (r *Repository) isPostgres() bool { return r.db.Dialector.Name() == "postgres" }

// EnsureSchema creates the star schema, seeds the sentinel rows and creates
// the daily aggregate (a materialized view on Postgres, a table elsewhere).
func (r *Repository) EnsureSchema(ctx context.Context) error {
	db := r.DB(ctx)
	if err := db.AutoMigrate(&model.Game{}, &model.Location{}, &model.FactTransaction{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.Game{
		ID: model.UnknownID, GameName: model.UnknownKey, Genre: model.UnknownKey,
	}).Error; err != nil {
		return fmt.Errorf("seed unknown game: %w", err)
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.Location{
		ID: model.UnknownID, CountryCode: model.UnknownKey, CountryName: "Unknown", Region: model.UnknownKey,
	}).Error; err != nil {
		return fmt.Errorf("seed unknown location: %w", err)
	}
	if r.isPostgres() {
		return db.Exec("CREATE MATERIALIZED VIEW IF NOT EXISTS " + dailyMetricsView + " AS " + aggregateSelect).Error
	}
	return db.AutoMigrate(&model.DailyGameMetric{})
}

// LookupDimension finds a dimension row by exact natural key.
func (r *Repository) LookupDimension(ctx context.Context, kind model.DimensionKind, key string) (int64, bool, error) {
	var (
		id  int64
		err error
	)
	switch kind {
	case model.DimGame:
		var g model.Game
		err = r.DB(ctx).Where("game_name = ?", key).First(&g).Error
		id = g.ID
	case model.DimLocation:
		var l model.Location
		err = r.DB(ctx).Where("country_code = ?", key).First(&l).Error
		id = l.ID
	default:
		return 0, false, fmt.Errorf("unknown dimension %q", kind)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// CreateDimension inserts a row with default attributes. A unique-key
// conflict means another writer created it first; the winner's id is
// returned.
func (r *Repository) CreateDimension(ctx context.Context, kind model.DimensionKind, key string) (int64, error) {
	var (
		res *gorm.DB
		id  func() int64
	)
	switch kind {
	case model.DimGame:
		g := &model.Game{GameName: key, Genre: "unclassified"}
		res = r.DB(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "game_name"}},
			DoNothing: true,
		}).Create(g)
		id = func() int64 { return g.ID }
	case model.DimLocation:
		l := &model.Location{CountryCode: key, CountryName: key, Region: model.UnknownKey}
		res = r.DB(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "country_code"}},
			DoNothing: true,
		}).Create(l)
		id = func() int64 { return l.ID }
	default:
		return 0, fmt.Errorf("unknown dimension %q", kind)
	}
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 1 && id() != 0 {
		return id(), nil
	}
	existing, found, err := r.LookupDimension(ctx, kind, key)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%s %q vanished after insert conflict", kind, key)
	}
	return existing, nil
}

func dimCacheKey(kind model.DimensionKind, key string) string {
	return fmt.Sprintf("dim:%s:%s", kind, key)
}

// CachedDimension reads Redis. A nil client is a permanent miss.
func (r *Repository) CachedDimension(ctx context.Context, kind model.DimensionKind, key string) (int64, bool, error) {
	if r.rdb == nil {
		return 0, false, nil
	}
	str, err := r.rdb.Get(ctx, dimCacheKey(kind, key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("cached %s id %q: %w", kind, str, err)
	}
	return id, true, nil
}

// CacheDimension writes Redis.
func (r *Repository) CacheDimension(ctx context.Context, kind model.DimensionKind, key string, id int64) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Set(ctx, dimCacheKey(kind, key), strconv.FormatInt(id, 10), r.ttl).Err()
}

// InsertFacts writes rows in one transaction, clearing the fact table first
// when truncate is set. Either every row lands or none do.
func (r *Repository) InsertFacts(ctx context.Context, rows []model.FactTransaction, truncate bool) (int64, error) {
	var inserted int64
	err := r.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if truncate {
			stmt := "DELETE FROM fact_transactions"
			if r.isPostgres() {
				stmt = "TRUNCATE TABLE fact_transactions"
			}
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("truncate facts: %w", err)
			}
		}
		if len(rows) == 0 {
			return nil
		}
		res := tx.CreateInBatches(&rows, insertChunk)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// RefreshDailyMetrics rebuilds the daily aggregate from the fact table.
func (r *Repository) RefreshDailyMetrics(ctx context.Context) error {
	if r.isPostgres() {
		return r.DB(ctx).Exec("REFRESH MATERIALIZED VIEW " + dailyMetricsView).Error
	}
	return r.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM daily_game_metrics").Error; err != nil {
			return err
		}
		return tx.Exec(`INSERT INTO daily_game_metrics (day, game_id, location_id, total_transactions,
	total_revenue, unique_users, avg_transaction_value, purchase_revenue, in_game_revenue,
	subscription_revenue)` + aggregateSelect).Error
	})
}

// CountFacts returns the fact table row count.
func (r *Repository) CountFacts(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB(ctx).Model(&model.FactTransaction{}).Count(&n).Error
	return n, err
}

// PublishRejection sends a rejected record to the dead-letter topic.
func (r *Repository) PublishRejection(ctx context.Context, rej *validate.Rejection) error {
	if r.writer == nil {
		return nil
	}
	payload, err := json.Marshal(rej)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:     []byte(rej.Record.EventID),
		Value:   payload,
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: "reason", Value: []byte(rej.Reason)}},
	}
	return r.writer.WriteMessages(ctx, msg)
}
