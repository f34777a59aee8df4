// Package graph records the related-items graph discovered by the related
// crawl in Neo4j.
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// SessionRunner abstracts neo4j.SessionWithContext.
type SessionRunner interface {
	ExecuteWrite(ctx context.Context, work neo4j.ManagedTransactionWork, configurers ...func(*neo4j.TransactionConfig)) (any, error)
	Close(ctx context.Context) error
}

// DriverSessioner abstracts neo4j.DriverWithContext.
type DriverSessioner interface {
	NewSession(ctx context.Context, config neo4j.SessionConfig) SessionRunner
	Close(ctx context.Context) error
}

const edgeQuery = "MERGE (from:Item {id: $from}) " +
	"WITH from UNWIND $to AS id " +
	"MERGE (to:Item {id: id}) " +
	"MERGE (from)-[:RELATED]->(to)"

// Config locates the Neo4j server.
type Config struct {
	URI      string
	User     string
	Password string
	Database string
}

// Sink writes (item)-[:RELATED]->(item) edges.
type Sink struct {
	driver   DriverSessioner
	database string
	logger   *zap.Logger
}

type neo4jDriver struct {
	driver neo4j.DriverWithContext
}

func (d *neo4jDriver) NewSession(ctx context.Context, config neo4j.SessionConfig) SessionRunner {
	return d.driver.NewSession(ctx, config)
}

func (d *neo4jDriver) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

// Open connects to Neo4j and verifies the connection.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Sink, error) {
	if cfg.URI == "" {
		return nil, errors.New("neo4j uri is required")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return New(&neo4jDriver{driver: driver}, cfg.Database, logger), nil
}

// New wraps an existing driver.
func New(driver DriverSessioner, database string, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{driver: driver, database: database, logger: logger.Named("graph")}
}

// AddEdges merges the from node, every to node and the edges between them
// in one write transaction.
func (s *Sink) AddEdges(ctx context.Context, from string, to []string) error {
	if from == "" || len(to) == 0 {
		return nil
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: s.database})
	defer func() {
		if err := session.Close(ctx); err != nil {
			s.logger.Warn("neo4j session close failed", zap.Error(err))
		}
	}()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, edgeQuery, map[string]any{"from": from, "to": to})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("write edges of %s: %w", from, err)
	}
	return nil
}

// Close releases the driver.
func (s *Sink) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
