package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"loci/domain/core/entities"
)

// priceFile is the on-disk shape of the static price table:
//
//	models:
//	  claude-sonnet:
//	    inputPerMillion: 300
//	    outputPerMillion: 1500
type priceFile struct {
	Version string                `yaml:"version"`
	Models  map[string]priceEntry `yaml:"models"`
}

type priceEntry struct {
	InputPerMillion  float64 `yaml:"inputPerMillion"`
	OutputPerMillion float64 `yaml:"outputPerMillion"`
}

// PriceTable is the static model price table. Lookups are lock free; a
// reload swaps the whole table at once.
type PriceTable struct {
	prices atomic.Pointer[map[string]entities.ModelPricing]
}

// NewPriceTable builds a table from in-memory prices.
func NewPriceTable(prices map[string]entities.ModelPricing) *PriceTable {
	t := &PriceTable{}
	t.swap(prices)
	return t
}

// LoadPriceTable reads a YAML price table file.
func LoadPriceTable(path string) (*PriceTable, error) {
	prices, err := readPriceFile(path)
	if err != nil {
		return nil, err
	}
	return NewPriceTable(prices), nil
}

// Lookup returns a copy of the pricing for modelID.
func (t *PriceTable) Lookup(modelID string) (*entities.ModelPricing, bool) {
	prices := t.prices.Load()
	if prices == nil {
		return nil, false
	}
	p, ok := (*prices)[modelID]
	if !ok {
		return nil, false
	}
	return &p, true
}

// Len is the number of priced models.
func (t *PriceTable) Len() int {
	if prices := t.prices.Load(); prices != nil {
		return len(*prices)
	}
	return 0
}

func (t *PriceTable) swap(prices map[string]entities.ModelPricing) {
	if prices == nil {
		prices = map[string]entities.ModelPricing{}
	}
	t.prices.Store(&prices)
}

func readPriceFile(path string) (map[string]entities.ModelPricing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read price table: %w", err)
	}
	var file priceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse price table YAML: %w", err)
	}
	if file.Models == nil {
		return nil, fmt.Errorf("price table %s has no models section", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat price table: %w", err)
	}
	prices := make(map[string]entities.ModelPricing, len(file.Models))
	for model, entry := range file.Models {
		model = strings.TrimSpace(model)
		if model == "" {
			return nil, fmt.Errorf("price table has an entry with no model name")
		}
		if entry.InputPerMillion < 0 || entry.OutputPerMillion < 0 {
			return nil, fmt.Errorf("price for %s cannot be negative", model)
		}
		prices[model] = entities.ModelPricing{
			ModelID:          model,
			InputPerMillion:  entry.InputPerMillion,
			OutputPerMillion: entry.OutputPerMillion,
			UpdatedAt:        info.ModTime().UTC(),
		}
	}
	return prices, nil
}

// PriceTableWatcher reloads a PriceTable when its file changes. A file that
// fails to parse leaves the current prices in place.
type PriceTableWatcher struct {
	path     string
	table    *PriceTable
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	debounce time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	// reloaded is signalled after each reload attempt. Used by tests.
	reloaded chan error
}

// WatchPriceTable starts watching path and reloading table from it.
func WatchPriceTable(path string, table *PriceTable, logger *zap.Logger) (*PriceTableWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory too so editors that save by rename are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch price table directory: %w", err)
	}

	w := &PriceTableWatcher{
		path:     path,
		table:    table,
		watcher:  watcher,
		logger:   logger,
		debounce: 100 * time.Millisecond,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		reloaded: make(chan error, 1),
	}
	go w.loop()
	logger.Info("Price table watcher started", zap.String("path", path))
	return w, nil
}

func (w *PriceTableWatcher) loop() {
	defer close(w.done)
	var timer *time.Timer
	for {
		select {
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Price table watcher error", zap.Error(err))
		}
	}
}

func (w *PriceTableWatcher) reload() {
	prices, err := readPriceFile(w.path)
	if err != nil {
		w.logger.Error("Failed to reload price table, keeping current prices", zap.Error(err))
	} else {
		w.table.swap(prices)
		w.logger.Info("Price table reloaded", zap.Int("models", len(prices)))
	}
	select {
	case w.reloaded <- err:
	default:
	}
}

// Stop stops watching.
func (w *PriceTableWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
		<-w.done
	})
}
