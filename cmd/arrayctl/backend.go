package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/crystal-mush/sparsearray/pkg/boltstore"
	"github.com/crystal-mush/sparsearray/pkg/config"
	"github.com/crystal-mush/sparsearray/pkg/sqlstore"
	"github.com/crystal-mush/sparsearray/pkg/vars"
)

// openBackend opens the persistent store named by the config.
func openBackend(c *config.Conf) (vars.Backend, error) {
	switch c.Backend {
	case config.BackendMemory:
		return vars.NewMemBackend(), nil
	case config.BackendBolt:
		if err := os.MkdirAll(filepath.Dir(c.BoltPath), 0o755); err != nil {
			return nil, err
		}
		s, err := boltstore.Open(c.BoltPath)
		if err != nil {
			return nil, err
		}
		log.Printf("Using bbolt store %s", s.Path())
		return s, nil
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(c.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		s, err := sqlstore.Open(c.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Printf("Using SQLite store %s", s.Path())
		return s, nil
	}
	return nil, fmt.Errorf("unknown backend %q", c.Backend)
}
