package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/nuetzliches/docrelay/internal/config"
	"github.com/nuetzliches/docrelay/internal/record"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestFilter_ExistsPredicate(t *testing.T) {
	got := Filter("token")
	if len(got) != 1 || got[0].Key != "token" {
		t.Fatalf("filter: %#v", got)
	}
	inner, ok := got[0].Value.(bson.D)
	if !ok || len(inner) != 1 || inner[0].Key != "$exists" || inner[0].Value != true {
		t.Fatalf("inner filter: %#v", got[0].Value)
	}
}

func TestMongoSource_InvalidURIIsConnectError(t *testing.T) {
	s := NewMongoSource(config.SourceConfig{
		URI:          "mongodb://",
		Database:     "rd1",
		Collection:   "3271",
		RequireField: "token",
	}, discardLogger())

	_, err := s.Read(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("error = %v, want ErrConnect", err)
	}
	if errors.Is(err, ErrQuery) {
		t.Fatalf("connect failure must not be a query error")
	}
}

func TestMongoSource_UnreachableIsConnectError(t *testing.T) {
	s := NewMongoSource(config.SourceConfig{
		URI:            "mongodb://127.0.0.1:1/?directConnection=true",
		Database:       "rd1",
		Collection:     "3271",
		RequireField:   "token",
		ConnectTimeout: 200 * time.Millisecond,
	}, discardLogger())

	start := time.Now()
	_, err := s.Read(context.Background())
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("error = %v, want ErrConnect", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("connect timeout not applied")
	}
}

func TestNewMongoSource_DefaultsIDField(t *testing.T) {
	s := NewMongoSource(config.SourceConfig{}, nil)
	if s.cfg.IDField != record.DefaultIDField {
		t.Fatalf("id field: got %q", s.cfg.IDField)
	}
}

func TestStaticSource(t *testing.T) {
	docs := []record.Document{{Key: "a", Record: record.Record{"token": "1"}}}
	got, err := StaticSource{Docs: docs}.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || got[0].Key != "a" {
		t.Fatalf("docs: %#v", got)
	}

	wantErr := errors.New("boom")
	if _, err := (StaticSource{Err: wantErr}).Read(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (StaticSource{Docs: docs}).Read(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
