package ormx

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

const (
	DbTypeMySQL  = "mysql"
	DbTypeSQLite = "sqlite"
)

// sqlite 默认开启 WAL 并设置 busy_timeout，减少写锁竞争
const defaultSQLiteParams = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

// DBConfig 数据库配置
type DBConfig struct {
	Debug              bool   `yaml:"debug" json:"debug" mapstructure:"debug"`
	DbType             string `yaml:"db-type" json:"dbType" mapstructure:"db-type"`
	DSN                string `yaml:"dsn" json:"dsn" mapstructure:"dsn"`
	Host               string `yaml:"host" json:"host" mapstructure:"host"`
	Port               int    `yaml:"port" json:"port" mapstructure:"port"`
	Username           string `yaml:"username" json:"username" mapstructure:"username"`
	Password           string `yaml:"password" json:"password" mapstructure:"password"`
	Database           string `yaml:"database" json:"database" mapstructure:"database"`
	Charset            string `yaml:"charset" json:"charset" mapstructure:"charset"`
	AppendParams       string `yaml:"append-params" json:"appendParams" mapstructure:"append-params"`
	MaxLifetime        int    `yaml:"max-lifetime" json:"maxLifetime" mapstructure:"max-lifetime"`
	MaxOpenConnections int    `yaml:"max-open-connections" json:"maxOpenConnections" mapstructure:"max-open-connections"`
	MaxIdleConnections int    `yaml:"max-idle-connections" json:"maxIdleConnections" mapstructure:"max-idle-connections"`
	TablePrefix        string `yaml:"table-prefix" json:"tablePrefix" mapstructure:"table-prefix"`
	// Silent 关闭 gorm 自带的 SQL 日志（record not found 等）
	Silent bool `yaml:"silent" json:"silent" mapstructure:"silent"`
}

// Prepare 填充默认值
func (c *DBConfig) Prepare() {
	if c.DbType == "" {
		c.DbType = DbTypeSQLite
	}
	if strings.EqualFold(c.DbType, DbTypeSQLite) {
		if c.Database == "" && c.DSN == "" {
			c.Database = "agentcore.db"
		}
		// sqlite 只允许单写连接
		if c.MaxOpenConnections == 0 {
			c.MaxOpenConnections = 1
		}
		if c.MaxIdleConnections == 0 {
			c.MaxIdleConnections = 1
		}
		return
	}
	if c.Port == 0 {
		c.Port = 3306
	}
	if c.MaxOpenConnections == 0 {
		c.MaxOpenConnections = 20
	}
	if c.MaxIdleConnections == 0 {
		c.MaxIdleConnections = 5
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = 3600
	}
}

// GetDSN 获取数据库连接字符串
func (c *DBConfig) GetDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	if strings.EqualFold(c.DbType, DbTypeSQLite) {
		params := c.AppendParams
		if params == "" {
			params = defaultSQLiteParams
		}
		return fmt.Sprintf("%s?%s", c.Database, params)
	}
	if c.AppendParams == "" {
		c.AppendParams = "parseTime=True&loc=Local"
	}
	if c.Charset != "" && !strings.Contains(c.AppendParams, "charset") {
		c.AppendParams += fmt.Sprintf("&charset=%s", c.Charset)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		c.Username,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
		c.AppendParams,
	)
}

// NewDBClient 创建db客户端
func NewDBClient(c DBConfig) (*gorm.DB, error) {
	c.Prepare()
	var dialect gorm.Dialector
	switch strings.ToLower(c.DbType) {
	case DbTypeMySQL:
		dialect = mysql.Open(c.GetDSN())
	case DbTypeSQLite:
		dialect = sqlite.Open(c.GetDSN())
	default:
		return nil, fmt.Errorf("dialector(%s) not supported", c.DbType)
	}
	gormConfig := &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   c.TablePrefix,
			SingularTable: true,
		},
	}
	if c.Silent {
		gormConfig.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(dialect, gormConfig)
	if err != nil {
		return nil, err
	}
	if c.Debug {
		db = db.Debug()
	}
	sqlDb, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDb.SetMaxIdleConns(c.MaxIdleConnections)
	sqlDb.SetMaxOpenConns(c.MaxOpenConnections)
	sqlDb.SetConnMaxLifetime(time.Duration(c.MaxLifetime) * time.Second)
	return db, nil
}

// UuidModel 基础model
type UuidModel struct {
	ID        string     `json:"id" gorm:"primaryKey;type:varchar(255)"`
	CreatedAt *time.Time `json:"createdAt" gorm:"type:dateTime;autoCreateTime;not null;comment:'创建时间'"`
	CreatedBy string     `json:"createdBy" gorm:"type:varchar(255);not null;default:'';comment:'创建人'"`
	UpdatedAt *time.Time `json:"updatedAt" gorm:"type:dateTime;autoUpdateTime;not null;comment:'更新时间'"`
	UpdatedBy string     `json:"updatedBy" gorm:"type:varchar(255);not null;default:'';comment:'更新人'"`
}
