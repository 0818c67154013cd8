package config

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

//go:embed policy/default.yaml
var policyFiles embed.FS

// CachePolicy holds the expiry of every cache record kind
type CachePolicy struct {
	NodeTTL       time.Duration
	ChunkTTL      time.Duration
	StatsTTL      time.Duration
	SweepInterval time.Duration
}

// policyDocument is the YAML shape of a policy file; empty fields keep the base value
type policyDocument struct {
	TTL struct {
		Nodes  string `yaml:"nodes"`
		Chunks string `yaml:"chunks"`
		Stats  string `yaml:"stats"`
	} `yaml:"ttl"`
	SweepInterval string `yaml:"sweep_interval"`
}

// DefaultPolicy returns the embedded policy
func DefaultPolicy() (CachePolicy, error) {
	data, err := policyFiles.ReadFile("policy/default.yaml")
	if err != nil {
		return CachePolicy{}, fmt.Errorf("read default policy: %w", err)
	}
	return ParsePolicy(data, CachePolicy{})
}

// ParsePolicy overlays the YAML document onto base and validates the result
func ParsePolicy(data []byte, base CachePolicy) (CachePolicy, error) {
	var doc policyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return CachePolicy{}, fmt.Errorf("unmarshal policy: %w", err)
	}

	p := base
	fields := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"ttl.nodes", doc.TTL.Nodes, &p.NodeTTL},
		{"ttl.chunks", doc.TTL.Chunks, &p.ChunkTTL},
		{"ttl.stats", doc.TTL.Stats, &p.StatsTTL},
		{"sweep_interval", doc.SweepInterval, &p.SweepInterval},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return CachePolicy{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = d
	}

	if err := p.Validate(); err != nil {
		return CachePolicy{}, err
	}
	return p, nil
}

// LoadPolicy returns the embedded policy, overlaid with path when path is set
func LoadPolicy(path string) (CachePolicy, error) {
	base, err := DefaultPolicy()
	if err != nil {
		return CachePolicy{}, err
	}
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return CachePolicy{}, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data, base)
}

// Validate enforces positive durations and chunks < nodes < stats
func (p CachePolicy) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.NodeTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&p.ChunkTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&p.StatsTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&p.SweepInterval, validation.Required, validation.Min(time.Second)),
	)
	if err != nil {
		return fmt.Errorf("invalid cache policy: %w", err)
	}
	if p.ChunkTTL >= p.NodeTTL {
		return errors.New("invalid cache policy: chunk ttl must be shorter than node ttl")
	}
	if p.NodeTTL > p.StatsTTL {
		return errors.New("invalid cache policy: stats ttl must not be shorter than node ttl")
	}
	return nil
}

// PolicyStore holds the live policy; reloads swap it atomically
type PolicyStore struct {
	current atomic.Pointer[CachePolicy]
}

// NewPolicyStore creates a store holding p
func NewPolicyStore(p CachePolicy) *PolicyStore {
	s := &PolicyStore{}
	s.Set(p)
	return s
}

// Current returns the live policy
func (s *PolicyStore) Current() CachePolicy {
	return *s.current.Load()
}

// Set replaces the live policy
func (s *PolicyStore) Set(p CachePolicy) {
	s.current.Store(&p)
}
