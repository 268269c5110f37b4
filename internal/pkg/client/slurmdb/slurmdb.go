package slurmdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"schedgw/config"
)

// Client is a read-only GORM connection to a slurmdbd accounting database.
// It serves historical job queries only; slurmdbd itself owns every write.
type Client struct {
	DB          *gorm.DB
	ClusterName string
	logger      *slog.Logger
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// New creates a read-only GORM Client configured from config.Slurmdb.
func New(cfg config.Slurmdb, logger *slog.Logger) (*Client, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	logger.Debug("build dsn", "dsn", dsn)

	gcfg := &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Warn),
	}

	db, err := gorm.Open(mysql.Open(dsn), gcfg)
	if err != nil {
		return nil, err
	}

	// Tune the underlying connection pool
	if sqlDB, err := db.DB(); err == nil {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if d := parseDuration(cfg.ConnMaxLifetime); d > 0 {
			sqlDB.SetConnMaxLifetime(d)
		}
		// Proactive connectivity check with timeout to avoid hanging on unreachable DB
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sqlDB.PingContext(ctx); err != nil {
			return nil, err
		}
	}

	// Enforce read-only at ORM layer
	enforceReadOnly(db)

	return &Client{DB: db, ClusterName: cfg.ClusterName, logger: logger}, nil
}

// JobRow is one accounting record from <cluster>_job_table, joined with the
// association table for user attribution.
type JobRow struct {
	IDJob      int64  `gorm:"column:id_job"`
	JobName    string `gorm:"column:job_name"`
	Account    string `gorm:"column:account"`
	Partition  string `gorm:"column:partition"`
	State      int    `gorm:"column:state"`
	TimeSubmit int64  `gorm:"column:time_submit"`
	TimeStart  int64  `gorm:"column:time_start"`
	TimeEnd    int64  `gorm:"column:time_end"`
	ExitCode   int    `gorm:"column:exit_code"`
	CPUsReq    int    `gorm:"column:cpus_req"`
	MemReq     int64  `gorm:"column:mem_req"`
	NodesAlloc int    `gorm:"column:nodes_alloc"`
	NodeList   string `gorm:"column:nodelist"`
	User       string `gorm:"column:user"`
}

// GetJobs queries historical jobs with optional filters. jobID and user are
// ignored when empty; startTime/endTime (epoch seconds) when zero. Returns
// the limited rows newest-first plus the total count before limiting.
func (c *Client) GetJobs(ctx context.Context, jobID, user string, startTime, endTime int64, limit int) ([]JobRow, int64, error) {
	if c == nil || c.DB == nil {
		return nil, 0, fmt.Errorf("nil slurmdb Client")
	}
	if strings.TrimSpace(c.ClusterName) == "" {
		return nil, 0, fmt.Errorf("cluster name is empty in slurmdb Client")
	}

	jobTable := fmt.Sprintf("%s_job_table", c.ClusterName)
	assocTable := fmt.Sprintf("%s_assoc_table", c.ClusterName)

	base := c.DB.WithContext(ctx).
		Table(jobTable+" AS j").
		Joins(fmt.Sprintf("LEFT JOIN %s AS a ON a.id_assoc = j.id_assoc", assocTable))
	if jobID != "" {
		base = base.Where("j.id_job = ?", jobID)
	}
	if user != "" {
		base = base.Where("a.`user` = ?", user)
	}
	if startTime > 0 {
		base = base.Where("j.time_submit >= ?", startTime)
	}
	if endTime > 0 {
		base = base.Where("j.time_submit <= ?", endTime)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	rows := make([]JobRow, 0)
	q := base.Select("j.*, a.`user` AS `user`").Order("j.id_job DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// buildDSN constructs a DSN string without importing the mysql driver package.
// Format: user:pass@tcp(host:port)/dbname?param=value
func buildDSN(cfg config.Slurmdb) (string, error) {
	creds := cfg.User
	if cfg.Password != "" {
		creds = fmt.Sprintf("%s:%s", cfg.User, cfg.Password)
	}

	addr := fmt.Sprintf("tcp(%s:%d)", cfg.Host, cfg.Port)
	dbname := cfg.Database

	params := make([]string, 0, 8)
	if cfg.Charset != "" {
		params = append(params, fmt.Sprintf("charset=%s", cfg.Charset))
	}
	if cfg.ParseTime {
		params = append(params, "parseTime=true")
	} else {
		params = append(params, "parseTime=false")
	}
	if cfg.Loc != "" {
		params = append(params, fmt.Sprintf("loc=%s", url.QueryEscape(cfg.Loc)))
	}
	if cfg.TLS != "" {
		params = append(params, fmt.Sprintf("tls=%s", cfg.TLS))
	}
	// Set conservative timeouts to prevent hangs on connect/read/write
	params = append(params, "timeout=5s")
	params = append(params, "readTimeout=5s")
	params = append(params, "writeTimeout=5s")

	dsn := fmt.Sprintf("%s@%s/%s", creds, addr, dbname)
	if len(params) > 0 {
		dsn = dsn + "?" + strings.Join(params, "&")
	}
	return dsn, nil
}

// parseDuration returns 0 on empty or invalid duration strings.
func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// enforceReadOnly installs GORM callbacks that reject write operations and non-read raw SQL.
func enforceReadOnly(db *gorm.DB) {
	block := func(tx *gorm.DB) {
		tx.AddError(errors.New("slurmdb Client is read-only"))
	}
	// Block create/update/delete
	_ = db.Callback().Create().Before("gorm:create").Register("schedgw:readonly_create", block)
	_ = db.Callback().Update().Before("gorm:update").Register("schedgw:readonly_update", block)
	_ = db.Callback().Delete().Before("gorm:delete").Register("schedgw:readonly_delete", block)

	// Block raw/exec that are not read-only
	_ = db.Callback().Raw().Before("gorm:raw").Register("schedgw:readonly_raw", func(tx *gorm.DB) {
		sql := strings.TrimSpace(tx.Statement.SQL.String())
		up := strings.ToUpper(sql)
		if strings.HasPrefix(up, "SELECT") || strings.HasPrefix(up, "SHOW") || strings.HasPrefix(up, "DESCRIBE") || strings.HasPrefix(up, "EXPLAIN") {
			return
		}
		tx.AddError(errors.New("read-only: raw SQL must be SELECT/SHOW/DESCRIBE/EXPLAIN"))
	})
}
