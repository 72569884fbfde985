package store

import (
	"errors"
	"fmt"
	"path/filepath"

	config "example.com/photoposts/internal/init"
	"example.com/photoposts/internal/logger"
	"example.com/photoposts/internal/models"
	"github.com/gocql/gocql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/cassandra"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

var logg = logger.New()

// SessionInterface is the subset of *gocql.Session the journal needs.
type SessionInterface interface {
	Query(stmt string, values ...interface{}) *gocql.Query
	Close()
}

// JournalInterface records committed post mutations. It is an audit trail
// only: the in-memory store is never rebuilt from it.
type JournalInterface interface {
	AppendEvent(ev models.Event) error
	History(postID string, limit int) ([]models.Event, error)
	Close()
}

// Journal is the Cassandra-backed JournalInterface.
type Journal struct {
	Session SessionInterface
}

// NewJournal prepares the journal keyspace and schema, then opens a
// session on it. Settings come from the config package.
func NewJournal() (JournalInterface, error) {
	cfg := config.Get()
	if cfg == nil {
		return nil, errors.New("journal: config not initialised")
	}

	if err := createKeyspace(cfg); err != nil {
		return nil, fmt.Errorf("journal keyspace: %w", err)
	}
	if err := migrateJournal(cfg); err != nil {
		return nil, fmt.Errorf("journal migrations: %w", err)
	}

	sess, err := journalCluster(cfg, cfg.CassandraKeyspace).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("journal session: %w", err)
	}

	logg.Info("journal", "Connected to Cassandra journal (host anonymized)")
	return &Journal{Session: sess}, nil
}

// journalCluster builds the cluster config shared by the bootstrap and
// journal sessions. With a data centre set, reads and writes stay local.
func journalCluster(cfg *config.Config, keyspace string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.CassandraHost)
	cluster.Keyspace = keyspace
	cluster.Timeout = cfg.CassandraTimeout
	cluster.ConnectTimeout = cfg.CassandraTimeout
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 3}
	cluster.Consistency = gocql.Quorum

	if cfg.CassandraUsername != "" && cfg.CassandraPassword != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.CassandraUsername,
			Password: cfg.CassandraPassword,
		}
	}
	if cfg.CassandraDC != "" {
		cluster.HostFilter = gocql.DataCentreHostFilter(cfg.CassandraDC)
		cluster.Consistency = gocql.LocalQuorum
	}
	return cluster
}

func createKeyspace(cfg *config.Config) error {
	sess, err := journalCluster(cfg, "system").CreateSession()
	if err != nil {
		return fmt.Errorf("connect to system keyspace: %w", err)
	}
	defer sess.Close()

	stmt := fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`,
		cfg.CassandraKeyspace,
	)
	if err := sess.Query(stmt).Exec(); err != nil {
		return err
	}

	logg.Debug("journal", "Keyspace ready (name anonymized)")
	return nil
}

// migrateJournal applies the CQL files under cfg.MigrationsPath.
func migrateJournal(cfg *config.Config) error {
	source := "file://" + filepath.ToSlash(cfg.MigrationsPath)
	target := fmt.Sprintf(
		"cassandra://%s/%s?x-migrations-table=schema_migrations&x-multi-statement=true",
		cfg.CassandraHost, cfg.CassandraKeyspace,
	)

	m, err := migrate.New(source, target)
	if err != nil {
		return err
	}
	defer m.Close()

	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		logg.Debug("journal", "Journal schema up to date")
	case err != nil:
		return err
	default:
		logg.Info("journal", "Journal schema migrated")
	}
	return nil
}

// Close releases the Cassandra session.
func (j *Journal) Close() {
	if j.Session == nil {
		return
	}
	j.Session.Close()
	logg.Info("journal", "Cassandra session closed")
}
