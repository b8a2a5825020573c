package conn

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/yanun0323/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
	defaultSQLitePath      = "audit_index.db"
)

// Option defines connection options for the SQL index database.
type Option struct {
	// Driver is "postgres" or "sqlite"; empty means sqlite.
	Driver     string            `json:"driver" yaml:"driver"`
	Host       string            `json:"host" yaml:"host"`
	Port       int               `json:"port" yaml:"port"`
	User       string            `json:"user" yaml:"user"`
	Password   string            `json:"password" yaml:"password"`
	Database   string            `json:"database" yaml:"database"`
	SSLMode    string            `json:"ssl_mode" yaml:"ssl_mode"`
	Params     map[string]string `json:"params" yaml:"params"`
	ConnString string            `json:"conn_string" yaml:"conn_string"`
	// Path is the sqlite database file; ":memory:" keeps it in memory.
	Path   string       `json:"path" yaml:"path"`
	Config *gorm.Config `json:"-" yaml:"-"`
}

// Client wraps a gorm connection pool.
type Client struct {
	opt Option
	db  *gorm.DB
}

// New creates a client from the provided options.
func New(option Option) (*Client, error) {
	dialector, err := option.dialector()
	if err != nil {
		return nil, err
	}

	config := option.Config
	if config == nil {
		config = &gorm.Config{
			Logger:                                   logger.Default.LogMode(logger.Silent),
			DisableForeignKeyConstraintWhenMigrating: true,
		}
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", option.driver())
	}

	if option.driver() == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows one writer; a single connection also keeps ":memory:" shared.
		sqlDB.SetMaxOpenConns(1)
	}

	return &Client{opt: option, db: db}, nil
}

// Driver returns the resolved driver name.
func (c *Client) Driver() string {
	if c == nil {
		return ""
	}
	return c.opt.driver()
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (opt Option) driver() string {
	d := strings.ToLower(strings.TrimSpace(opt.Driver))
	if d == "" {
		return DriverSQLite
	}
	return d
}

// Validate checks the driver name.
func (opt Option) Validate() error {
	switch opt.driver() {
	case DriverPostgres, DriverSQLite:
		return nil
	default:
		return errors.Errorf("unsupported driver %q", opt.Driver)
	}
}

func (opt Option) dialector() (gorm.Dialector, error) {
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	if opt.driver() == DriverSQLite {
		dsn, err := opt.sqliteDSN()
		if err != nil {
			return nil, err
		}
		return sqlite.Open(dsn), nil
	}
	dsn, err := opt.dsn()
	if err != nil {
		return nil, err
	}
	return postgres.Open(dsn), nil
}

func (opt Option) sqliteDSN() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}
	path := opt.Path
	if path == "" {
		path = defaultSQLitePath
	}
	if path == ":memory:" {
		return "file::memory:", nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", errors.Wrap(err, "create sqlite dir")
		}
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path), nil
}

func (opt Option) dsn() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}

	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}

	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}

	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}

	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	if len(query) != 0 {
		u.RawQuery = query.Encode()
	}

	return u.String(), nil
}
