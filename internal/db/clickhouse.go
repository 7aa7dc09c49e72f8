package db

import (
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"
)

type ClickHouseOpts struct {
	PoolOpts
	DSN string // e.g. clickhouse://default:@localhost:9000/paysms?dial_timeout=5s&compress=true
}

func NewClickHouseConnection(opts ClickHouseOpts) (*sqlx.DB, error) {
	return open("clickhouse", opts.DSN, opts.PoolOpts, 3*time.Second)
}
