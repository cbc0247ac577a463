package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
)

// FilePersister keeps every alert in one JSON document, rewritten atomically
// on each change.
type FilePersister struct {
	path string
	mu   sync.Mutex
	m    map[string]model.PriceAlert
}

func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path, m: make(map[string]model.PriceAlert)}
}

func (f *FilePersister) Load(context.Context) ([]model.PriceAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read alerts: %w", err)
	}
	var alerts []model.PriceAlert
	if len(b) > 0 {
		if err := json.Unmarshal(b, &alerts); err != nil {
			return nil, fmt.Errorf("decode alerts %s: %w", f.path, err)
		}
	}
	f.m = make(map[string]model.PriceAlert, len(alerts))
	for _, a := range alerts {
		f.m[a.ID] = a
	}
	return alerts, nil
}

func (f *FilePersister) Save(_ context.Context, alerts ...model.PriceAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range alerts {
		f.m[a.ID] = a
	}
	return f.flush()
}

func (f *FilePersister) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.m[id]; !ok {
		return nil
	}
	delete(f.m, id)
	return f.flush()
}

func (f *FilePersister) flush() error {
	all := make([]model.PriceAlert, 0, len(f.m))
	for _, a := range f.m {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	b, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create alert dir: %w", err)
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write alerts: %w", err)
	}
	return os.Rename(tmp, f.path)
}
