// Package trainmaster loads the master train schedule from a YAML or JSON
// file or URL and serves it as a trains.Directory.
package trainmaster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/stationctl/core/logger"
	"github.com/kilianp07/stationctl/core/model"
	"github.com/kilianp07/stationctl/core/trains"
)

// ErrReadOnly is returned by PutTrain and DeleteTrain on a master fetched
// over HTTP.
var ErrReadOnly = errors.New("train master: read-only source")

// Directory serves the train master from a file or a URL. File sources are
// written back in their original format.
type Directory struct {
	mu     sync.RWMutex
	path   string
	url    string
	client *http.Client
	trains map[string]model.Train
	log    logger.Logger
}

// Load reads the master file at path. Records that fail to convert are
// skipped and logged; duplicate numbers keep the first record.
func Load(path string, log logger.Logger) (*Directory, error) {
	d := &Directory{path: path, log: log}
	if d.log == nil {
		d.log = logger.Nop{}
	}
	if _, err := d.Reload(context.Background()); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadURL fetches the master from url with client, which may carry
// authentication. A URL ending in .json is decoded as JSON, anything else as
// YAML unless the response says application/json.
func LoadURL(ctx context.Context, url string, client *http.Client, log logger.Logger) (*Directory, error) {
	if client == nil {
		client = http.DefaultClient
	}
	d := &Directory{url: url, client: client, log: log}
	if d.log == nil {
		d.log = logger.Nop{}
	}
	if _, err := d.Reload(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// Source names where the master is read from.
func (d *Directory) Source() string {
	if d.url != "" {
		return d.url
	}
	return d.path
}

// Reload reads the source again and replaces the served trains. It returns
// the number of trains loaded. On error the previous trains stay in place.
func (d *Directory) Reload(ctx context.Context) (int, error) {
	b, asJSON, err := d.read(ctx)
	if err != nil {
		return 0, fmt.Errorf("train master: %w", err)
	}
	recs, err := decode(b, asJSON)
	if err != nil {
		return 0, fmt.Errorf("train master %s: %w", d.Source(), err)
	}
	ts := make(map[string]model.Train, len(recs))
	for i, r := range recs {
		t, err := r.Train()
		if err != nil {
			d.log.Warnf("train master: skipping record %d: %v", i+1, err)
			continue
		}
		if _, dup := ts[t.ID]; dup {
			d.log.Warnf("train master: duplicate train %s ignored", t.ID)
			continue
		}
		ts[t.ID] = t
	}
	d.mu.Lock()
	d.trains = ts
	d.mu.Unlock()
	d.log.Infof("train master: loaded %d trains from %s", len(ts), d.Source())
	return len(ts), nil
}

func (d *Directory) read(ctx context.Context) ([]byte, bool, error) {
	if d.url == "" {
		b, err := os.ReadFile(d.path)
		return b, isJSON(d.path), err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json, application/yaml")
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("GET %s: %s", d.url, resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, false, err
	}
	asJSON := isJSON(d.url) || strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json")
	return b, asJSON, nil
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

func decode(b []byte, asJSON bool) ([]Record, error) {
	var recs []Record
	if asJSON {
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		if err := dec.Decode(&recs); err != nil {
			return nil, err
		}
		return recs, nil
	}
	if err := yaml.Unmarshal(b, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// GetTrain returns the train or trains.ErrUnknownTrain.
func (d *Directory) GetTrain(_ context.Context, id string) (model.Train, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.trains[strings.TrimSpace(id)]
	if !ok {
		return model.Train{}, trains.ErrUnknownTrain
	}
	return t, nil
}

// ListTrains returns all trains sorted by number.
func (d *Directory) ListTrains(context.Context) ([]model.Train, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sortedLocked(), nil
}

func (d *Directory) sortedLocked() []model.Train {
	out := make([]model.Train, 0, len(d.trains))
	for _, t := range d.trains {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PutTrain validates t, stores it and saves the file.
func (d *Directory) PutTrain(_ context.Context, t model.Train) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if d.url != "" {
		return ErrReadOnly
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, existed := d.trains[t.ID]
	d.trains[t.ID] = t
	if err := d.saveLocked(); err != nil {
		if existed {
			d.trains[t.ID] = prev
		} else {
			delete(d.trains, t.ID)
		}
		return err
	}
	return nil
}

// DeleteTrain removes the train and saves the file.
func (d *Directory) DeleteTrain(_ context.Context, id string) error {
	if d.url != "" {
		return ErrReadOnly
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, ok := d.trains[id]
	if !ok {
		return trains.ErrUnknownTrain
	}
	delete(d.trains, id)
	if err := d.saveLocked(); err != nil {
		d.trains[id] = prev
		return err
	}
	return nil
}

func (d *Directory) saveLocked() error {
	ts := d.sortedLocked()
	recs := make([]Record, len(ts))
	for i, t := range ts {
		recs[i] = FromTrain(t)
	}
	var (
		b   []byte
		err error
	)
	if isJSON(d.path) {
		b, err = json.MarshalIndent(recs, "", "  ")
	} else {
		b, err = yaml.Marshal(recs)
	}
	if err != nil {
		return fmt.Errorf("train master: encode: %w", err)
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("train master: write: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("train master: rename: %w", err)
	}
	return nil
}

var (
	_ trains.Directory = (*Directory)(nil)
	_ trains.Writer    = (*Directory)(nil)
)
