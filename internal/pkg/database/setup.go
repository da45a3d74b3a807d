package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/turmony/douBao/internal/config"
	"github.com/turmony/douBao/internal/model"
)

// DB 全局数据库连接
var DB *gorm.DB

// Setup 初始化数据库连接和迁移
func Setup() error {
	dialector, err := dialectorFor(config.GlobalConfig)
	if err != nil {
		return err
	}

	db, err := Open(dialector)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Open 连接数据库并自动迁移
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %v", err)
	}

	if err := db.AutoMigrate(
		&model.User{},
		&model.Binding{},
		&model.Session{},
		&model.AnalysisJob{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %v", err)
	}

	return db, nil
}

func dialectorFor(cfg *config.Config) (gorm.Dialector, error) {
	db := cfg.Database
	switch db.Driver {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			db.Username,
			db.Password,
			db.Host,
			db.Port,
			db.DBName,
		)
		return mysql.Open(dsn), nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=Asia/Shanghai",
			db.Host,
			db.Port,
			db.Username,
			db.Password,
			db.DBName,
		)
		return postgres.Open(dsn), nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(db.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %v", err)
		}
		return sqlite.Open(db.Path), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", db.Driver)
	}
}

// GetDB 获取数据库连接
func GetDB() *gorm.DB {
	return DB
}
