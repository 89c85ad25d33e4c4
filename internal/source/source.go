// Package source reads the documents to relay from MongoDB.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/nuetzliches/docrelay/internal/config"
	"github.com/nuetzliches/docrelay/internal/record"
)

var (
	// ErrConnect reports that the store could not be reached.
	ErrConnect = errors.New("source: connect failed")
	// ErrQuery reports that the store was reached but the read failed.
	ErrQuery = errors.New("source: query failed")
)

const disconnectTimeout = 10 * time.Second

// Source returns the full set of documents to relay, in store order.
type Source interface {
	Read(ctx context.Context) ([]record.Document, error)
}

type MongoSource struct {
	cfg    config.SourceConfig
	logger *slog.Logger
}

var _ Source = (*MongoSource)(nil)

func NewMongoSource(cfg config.SourceConfig, logger *slog.Logger) *MongoSource {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.IDField) == "" {
		cfg.IDField = record.DefaultIDField
	}
	return &MongoSource{cfg: cfg, logger: logger}
}

// Filter is the query selecting documents that carry the required field.
func Filter(field string) bson.D {
	return bson.D{{Key: field, Value: bson.D{{Key: "$exists", Value: true}}}}
}

// Read connects, selects every document having the required field and
// disconnects. The connection is released on every return path.
func (s *MongoSource) Read(ctx context.Context) ([]record.Document, error) {
	opts := options.Client().
		ApplyURI(s.cfg.URI).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	if s.cfg.ConnectTimeout > 0 {
		opts.SetServerSelectionTimeout(s.cfg.ConnectTimeout)
		opts.SetConnectTimeout(s.cfg.ConnectTimeout)
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	defer s.disconnect(ctx, client)

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	s.logger.Info("source_connected",
		slog.String("database", s.cfg.Database),
		slog.String("collection", s.cfg.Collection),
	)

	coll := client.Database(s.cfg.Database).Collection(s.cfg.Collection)
	cur, err := coll.Find(ctx, Filter(s.cfg.RequireField))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}

	docs := make([]record.Document, 0, len(raw))
	for _, m := range raw {
		r := record.Record(m)
		docs = append(docs, record.Document{
			Key:    record.KeyOf(r, s.cfg.IDField),
			Record: r,
		})
	}
	s.logger.Info("source_read",
		slog.String("require_field", s.cfg.RequireField),
		slog.Int("documents", len(docs)),
	)
	return docs, nil
}

func (s *MongoSource) disconnect(ctx context.Context, client *mongo.Client) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
	defer cancel()
	if err := client.Disconnect(dctx); err != nil {
		s.logger.Warn("source_disconnect_failed", slog.Any("err", err))
		return
	}
	s.logger.Debug("source_disconnected")
}

// StaticSource serves a fixed document list. It is used for dry runs and
// tests.
type StaticSource struct {
	Docs []record.Document
	Err  error
}

func (s StaticSource) Read(ctx context.Context) ([]record.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]record.Document, len(s.Docs))
	copy(out, s.Docs)
	return out, nil
}
