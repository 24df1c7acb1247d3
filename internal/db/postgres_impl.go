package db

import (
	"fmt"
	"net/url"
	"strings"

	"dbconnector/internal/connection"

	_ "github.com/lib/pq"
)

// PostgresDB serves postgres and redshift. Redshift always negotiates SSL.
type PostgresDB struct {
	sqlDatabase
	dialect string
}

func (p *PostgresDB) getDSN(config connection.ConnectionConfig, addr string) string {
	dbname := strings.TrimSpace(config.Database)
	if dbname == "" {
		dbname = "postgres"
	}
	sslMode := "disable"
	if config.SSL || p.dialect == connection.DialectRedshift {
		sslMode = "require"
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(config.Username, config.Password),
		Host:   addr,
		Path:   "/" + dbname,
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("connect_timeout", fmt.Sprintf("%d", int(getConnectTimeout(config).Seconds())))
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *PostgresDB) Connect(config connection.ConnectionConfig) error {
	if p.dialect == "" {
		p.dialect = connection.DialectPostgres
	}
	p.sqlDatabase.dialect = p.dialect
	_ = p.Close()

	addr, err := p.forwardIfNeeded(config)
	if err != nil {
		return err
	}
	return p.open("postgres", p.getDSN(config, addr), config)
}
