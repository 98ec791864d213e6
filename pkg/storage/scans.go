package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/howtoharden/hth/pkg/engine"
)

// SaveScan writes r as indented JSON under ScanKey and returns the key.
func SaveScan(ctx context.Context, store BlobStore, r engine.ScanReport) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode scan report: %w", err)
	}
	key := ScanKey(r.Vendor, r.Timestamp)
	if err := store.Put(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

// LatestScan loads the most recent saved report for vendor.
func LatestScan(ctx context.Context, store BlobStore, vendor string) (engine.ScanReport, error) {
	keys, err := store.List(ctx, path.Join("scans", vendor)+"/")
	if err != nil {
		return engine.ScanReport{}, err
	}
	latest := ""
	for _, k := range keys {
		// Timestamps in keys sort lexically.
		if strings.HasSuffix(k, ".json") && k > latest {
			latest = k
		}
	}
	if latest == "" {
		return engine.ScanReport{}, fmt.Errorf("no saved scans for %s: %w", vendor, ErrNotFound)
	}
	data, err := store.Get(ctx, latest)
	if err != nil {
		return engine.ScanReport{}, err
	}
	var r engine.ScanReport
	if err := json.Unmarshal(data, &r); err != nil {
		return engine.ScanReport{}, fmt.Errorf("decode %s: %w", latest, err)
	}
	return r, nil
}
