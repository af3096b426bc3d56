package trustcoin

import (
	"errors"
	"os"
	"path"
	"time"

	"github.com/everFinance/trustcoin/schema"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	sqliteName = "trustcoin.db"
)

type Wdb struct {
	Db *gorm.DB
}

func NewMysqlDb(dsn string) (*Wdb, error) {
	logLevel := logger.Error
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:          logger.Default.LogMode(logLevel),
		CreateBatchSize: 200,
	})
	if err != nil {
		return nil, err
	}
	log.Info("connect mysql db success")
	return &Wdb{Db: db}, nil
}

func NewSqliteDb(dbDir string) (*Wdb, error) {
	if err := os.MkdirAll(dbDir, os.ModePerm); err != nil {
		return nil, err
	}
	db, err := gorm.Open(sqlite.Open(path.Join(dbDir, sqliteName)), &gorm.Config{
		Logger:          logger.Default.LogMode(logger.Silent),
		CreateBatchSize: 200,
	})
	if err != nil {
		return nil, err
	}
	// single writer keeps sqlite from returning SQLITE_BUSY under concurrent claims
	if sqlDb, err := db.DB(); err == nil {
		sqlDb.SetMaxOpenConns(1)
	}
	log.Info("connect sqlite db success", "dir", dbDir)
	return &Wdb{Db: db}, nil
}

func (w *Wdb) Migrate() error {
	return w.Db.AutoMigrate(&schema.ClaimRecord{})
}

func (w *Wdb) Close() error {
	sqlDb, err := w.Db.DB()
	if err != nil {
		return err
	}
	return sqlDb.Close()
}

// ReserveClaim inserts rec unless the address already has a row. The unique index on
// address makes this the atomic check-and-reserve.
func (w *Wdb) ReserveClaim(rec *schema.ClaimRecord) (bool, error) {
	res := w.Db.Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (w *Wdb) AttachClaimTx(addr, txHash string) error {
	res := w.Db.Model(&schema.ClaimRecord{}).
		Where("address = ? AND status = ?", addr, schema.ClaimPending).
		Update("tx_hash", txHash)
	return rowsOrNotExist(res)
}

func (w *Wdb) CommitClaim(addr string, claimedAt time.Time) (*schema.ClaimRecord, error) {
	res := w.Db.Model(&schema.ClaimRecord{}).
		Where("address = ? AND status = ?", addr, schema.ClaimPending).
		Updates(map[string]interface{}{"status": schema.ClaimDone, "claimed_at": claimedAt})
	if err := rowsOrNotExist(res); err != nil {
		return nil, err
	}
	return w.GetClaim(addr)
}

func (w *Wdb) ReleaseClaim(addr string) error {
	res := w.Db.Where("address = ? AND status = ?", addr, schema.ClaimPending).Delete(&schema.ClaimRecord{})
	return rowsOrNotExist(res)
}

func (w *Wdb) GetClaim(addr string) (*schema.ClaimRecord, error) {
	rec := &schema.ClaimRecord{}
	err := w.Db.Where("address = ?", addr).First(rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, schema.ErrNotExist
	}
	return rec, err
}

func (w *Wdb) ListClaims(status string) ([]schema.ClaimRecord, error) {
	res := make([]schema.ClaimRecord, 0, 100)
	err := w.Db.Where("status = ?", status).Order("claimed_at asc, address asc").Find(&res).Error
	return res, err
}

func (w *Wdb) SaveClaim(rec *schema.ClaimRecord) error {
	return w.Db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "xp", "tx_hash", "status", "claimed_at", "updated_at"}),
	}).Create(rec).Error
}

func rowsOrNotExist(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return schema.ErrNotExist
	}
	return nil
}
