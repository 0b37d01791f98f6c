// Package db opens the local or shared database and migrates its tables.
package db

import (
	"fmt"
	"time"

	"github.com/VINIA6/CHATAI/internal/auth"
	"github.com/VINIA6/CHATAI/internal/chat"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Connect opens dsn with the given driver. For mysql the dsn looks like
// app:apppass@tcp(127.0.0.1:3306)/chatai?charset=utf8mb4&parseTime=true&loc=Local
func Connect(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if driver == DriverMySQL {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	} else {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	}
	return gdb, nil
}

// Migrate creates or updates every table the client and worker use.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&auth.SessionRecord{},
		&chat.Talk{},
		&chat.Event{},
	)
}

// Open is Connect followed by Migrate.
func Open(driver, dsn string) (*gorm.DB, error) {
	gdb, err := Connect(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(gdb); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return gdb, nil
}
