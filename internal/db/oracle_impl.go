package db

import (
	"strings"

	"dbconnector/internal/connection"

	go_ora "github.com/sijms/go-ora/v2"
)

type OracleDB struct {
	sqlDatabase
}

func (o *OracleDB) getDSN(config connection.ConnectionConfig, host string, port int) string {
	service := strings.TrimSpace(config.Database)
	if service == "" {
		service = "ORCL"
	}
	options := map[string]string{}
	if config.SSL {
		options["SSL"] = "enable"
	}
	return go_ora.BuildUrl(host, port, service, config.Username, config.Password, options)
}

func (o *OracleDB) Connect(config connection.ConnectionConfig) error {
	o.dialect = connection.DialectOracle
	_ = o.Close()

	addr, err := o.forwardIfNeeded(config)
	if err != nil {
		return err
	}
	host, port := splitHostPort(addr, config.EffectivePort())
	return o.open("oracle", o.getDSN(config, host, port), config)
}
