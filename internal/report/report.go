// Package report exports operation results (integrity audits, cascade
// results, migrations) as JSON documents to a filesystem directory or an S3
// bucket.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"castline/internal/config"
	"castline/internal/engine"
)

var ErrNotFound = errors.New("report not found")

// Sink stores exported reports by name.
type Sink interface {
	Put(ctx context.Context, name string, body []byte) (string, error)
	Get(ctx context.Context, name string) ([]byte, error)
}

// Open builds the sink selected by cfg.
func Open(ctx context.Context, cfg config.ReportsConfig) (Sink, error) {
	switch cfg.Sink {
	case "", config.SinkFS:
		return FSSink{Dir: cfg.Dir}, nil
	case config.SinkS3:
		return NewS3Sink(ctx, cfg.S3)
	}
	return nil, fmt.Errorf("unknown report sink %q", cfg.Sink)
}

// Name builds a sortable report name such as integrity-20240101T000000Z.json.
func Name(kind string, at time.Time) string {
	return fmt.Sprintf("%s-%s.json", kind, at.UTC().Format("20060102T150405Z"))
}

// Export encodes v and writes it under a timestamped name.
func Export(ctx context.Context, sink Sink, kind string, at time.Time, v any) (string, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s report: %w", kind, err)
	}
	return sink.Put(ctx, Name(kind, at), append(body, '\n'))
}

// DecodeIntegrity reads an exported integrity report.
func DecodeIntegrity(r io.Reader) (engine.IntegrityReport, error) {
	var rep engine.IntegrityReport
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rep); err != nil {
		return rep, fmt.Errorf("decode integrity report: %w", err)
	}
	return rep, nil
}

// LoadIntegrity fetches a report from the sink and decodes it.
func LoadIntegrity(ctx context.Context, sink Sink, name string) (engine.IntegrityReport, error) {
	body, err := sink.Get(ctx, name)
	if err != nil {
		return engine.IntegrityReport{}, err
	}
	return DecodeIntegrity(bytes.NewReader(body))
}

// FSSink writes reports into a directory.
type FSSink struct {
	Dir string
}

func (s FSSink) dir() string {
	if s.Dir == "" {
		return filepath.Join(".castline", "reports")
	}
	return s.Dir
}

func (s FSSink) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid report name %q", name)
	}
	return filepath.Join(s.dir(), name), nil
}

func (s FSSink) Put(_ context.Context, name string, body []byte) (string, error) {
	p, err := s.path(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir(), 0o755); err != nil {
		return "", err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, p); err != nil {
		return "", err
	}
	return p, nil
}

func (s FSSink) Get(_ context.Context, name string) ([]byte, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return body, err
}
