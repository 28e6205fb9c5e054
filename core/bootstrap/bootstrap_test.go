package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/flowbot/core/config"
	coredatabase "github.com/m3rciful/flowbot/core/database"
	"github.com/m3rciful/flowbot/core/storage"
)

func noLogger(*coreconfig.Config) error { return nil }

func TestRunMemoryStorageSkipsDatabase(t *testing.T) {
	cfg := &coreconfig.Config{Dialog: coreconfig.DialogConfig{Storage: coreconfig.StorageMemory}}
	var seeded storage.Set
	res, err := Run(context.Background(), Options{
		Config:     cfg,
		LoggerInit: noLogger,
		Connect: func(coredatabase.Config) (*sqlx.DB, error) {
			t.Fatal("connect must not be called with memory storage")
			return nil, nil
		},
		Modules: Modules{Seeders: []Seeder{
			nil,
			SeederFunc(func(_ context.Context, s Storage) error {
				seeded, _ = s.(storage.Set)
				return nil
			}),
		}},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Memory == nil || res.DB != nil || seeded.Clients == nil {
		t.Fatalf("result = %+v, seeded = %+v", res, seeded)
	}
	if err := res.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRunPropagatesFailures(t *testing.T) {
	if _, err := Run(context.Background(), Options{}); err == nil {
		t.Fatal("expected nil config error")
	}

	cfg := &coreconfig.Config{Dialog: coreconfig.DialogConfig{Storage: coreconfig.StorageMemory}}
	boom := errors.New("boom")
	if _, err := Run(context.Background(), Options{Config: cfg, LoggerInit: func(*coreconfig.Config) error { return boom }}); !errors.Is(err, boom) {
		t.Fatalf("logger err = %v", err)
	}

	_, err := Run(context.Background(), Options{
		Config:     cfg,
		LoggerInit: noLogger,
		Modules: Modules{Seeders: []Seeder{SeederFunc(func(context.Context, Storage) error {
			return boom
		})}},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("seeder err = %v", err)
	}

	pg := &coreconfig.Config{Dialog: coreconfig.DialogConfig{Storage: coreconfig.StoragePostgres}}
	_, err = Run(context.Background(), Options{
		Config:     pg,
		LoggerInit: noLogger,
		Connect:    func(coredatabase.Config) (*sqlx.DB, error) { return nil, boom },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("connect err = %v", err)
	}
}
