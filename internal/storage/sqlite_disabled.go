//go:build !sqlite
// +build !sqlite

package storage

import (
	"errors"

	"taskbot/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite driver not compiled in (build with -tags sqlite)")
}
