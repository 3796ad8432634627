package repository

import (
	"time"

	"github.com/jmoiron/sqlx"
	// sqlx 走 pgx 的 database/sql 驱动
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
)

// 统计是纯读模型，聚合 SQL 直接用 sqlx 写裸查询，不走 gorm

// StatusCount 按状态聚合
type StatusCount struct {
	Status string          `db:"status" json:"status"`
	Count  int64           `db:"count" json:"count"`
	Total  decimal.Decimal `db:"total" json:"total"`
}

// MethodCount 按退款方式聚合
type MethodCount struct {
	Method string          `db:"method" json:"method"`
	Count  int64           `db:"count" json:"count"`
	Total  decimal.Decimal `db:"total" json:"total"`
}

// DailyCount 按天聚合
type DailyCount struct {
	Day   time.Time       `db:"day" json:"day"`
	Count int64           `db:"count" json:"count"`
	Total decimal.Decimal `db:"total" json:"total"`
}

// VendorCount 按商家聚合（vendor_id 为空的归为平台）
type VendorCount struct {
	VendorID *string         `db:"vendor_id" json:"vendorId"`
	Count    int64           `db:"count" json:"count"`
	Total    decimal.Decimal `db:"total" json:"total"`
}

// BucketCount 按金额区间聚合
type BucketCount struct {
	Bucket string `db:"bucket" json:"bucket"`
	Count  int64  `db:"count" json:"count"`
}

// Statistics 统计结果
type Statistics struct {
	ByStatus []StatusCount `json:"byStatus"`
	ByMethod []MethodCount `json:"byMethod"`
	ByDay    []DailyCount  `json:"byDay"`
	ByVendor []VendorCount `json:"byVendor"`
	ByBucket []BucketCount `json:"byBucket"`
}

type StatisticsRepository interface {
	Aggregate(from, to time.Time, vendorID *string) (*Statistics, error)
}

type statisticsRepository struct {
	db *sqlx.DB
}

func NewStatisticsRepository(dsn string) (StatisticsRepository, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	return &statisticsRepository{db: db}, nil
}

func (r *statisticsRepository) Aggregate(from, to time.Time, vendorID *string) (*Statistics, error) {
	stats := &Statistics{}

	// 商家维度过滤拼在 WHERE 尾部，参数固定三个
	vendorClause := ""
	args := []interface{}{from, to}
	if vendorID != nil {
		vendorClause = " AND vendor_id = $3"
		args = append(args, *vendorID)
	}

	base := `FROM refunds WHERE requested_at >= $1 AND requested_at < $2` + vendorClause

	if err := r.db.Select(&stats.ByStatus,
		`SELECT status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total `+base+
			` GROUP BY status ORDER BY status`, args...); err != nil {
		return nil, err
	}

	if err := r.db.Select(&stats.ByMethod,
		`SELECT method, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total `+base+
			` GROUP BY method ORDER BY method`, args...); err != nil {
		return nil, err
	}

	if err := r.db.Select(&stats.ByDay,
		`SELECT date_trunc('day', requested_at) AS day, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total `+base+
			` GROUP BY day ORDER BY day`, args...); err != nil {
		return nil, err
	}

	if err := r.db.Select(&stats.ByVendor,
		`SELECT vendor_id, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total `+base+
			` GROUP BY vendor_id ORDER BY count DESC`, args...); err != nil {
		return nil, err
	}

	if err := r.db.Select(&stats.ByBucket,
		`SELECT CASE
			WHEN amount < 100 THEN 'lt_100'
			WHEN amount < 1000 THEN '100_1000'
			WHEN amount < 10000 THEN '1000_10000'
			ELSE 'gte_10000'
		END AS bucket, COUNT(*) AS count `+base+
			` GROUP BY bucket ORDER BY bucket`, args...); err != nil {
		return nil, err
	}

	return stats, nil
}
