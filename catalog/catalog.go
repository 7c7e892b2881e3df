/*
Package catalog provides core values and rewards to the praise and redemption
services. The catalog is reference data owned outside the ledger: the ledger
only ever reads it, and never while a store transaction is open.

The shipped implementation is Static, usually loaded from a YAML file:

	core_values:
	  - id: teamwork
	    name: Teamwork
	    description: We win together
	rewards:
	  - id: mug
	    name: Company mug
	    cost: 100
	    active: true
*/
package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/warp/praise-ledger/ledger"
)

// Provider is the read-only catalog the services depend on.
type Provider interface {
	GetCoreValue(ctx context.Context, id ledger.CoreValueID) (ledger.CoreValue, error)
	GetReward(ctx context.Context, id ledger.RewardID) (ledger.Reward, error)
	ListCoreValues(ctx context.Context) ([]ledger.CoreValue, error)
	ListRewards(ctx context.Context) ([]ledger.Reward, error)
}

// Static is an immutable in-memory catalog.
type Static struct {
	values  map[ledger.CoreValueID]ledger.CoreValue
	rewards map[ledger.RewardID]ledger.Reward
}

var _ Provider = (*Static)(nil)

// NewStatic validates and indexes the given entries.
func NewStatic(values []ledger.CoreValue, rewards []ledger.Reward) (*Static, error) {
	s := &Static{
		values:  make(map[ledger.CoreValueID]ledger.CoreValue, len(values)),
		rewards: make(map[ledger.RewardID]ledger.Reward, len(rewards)),
	}
	for _, v := range values {
		if strings.TrimSpace(string(v.ID)) == "" || strings.TrimSpace(v.Name) == "" {
			return nil, fmt.Errorf("core value %q: id and name are required", v.ID)
		}
		if _, dup := s.values[v.ID]; dup {
			return nil, fmt.Errorf("core value %q defined twice", v.ID)
		}
		s.values[v.ID] = v
	}
	for _, r := range rewards {
		if strings.TrimSpace(string(r.ID)) == "" || strings.TrimSpace(r.Name) == "" {
			return nil, fmt.Errorf("reward %q: id and name are required", r.ID)
		}
		if r.Cost <= 0 {
			return nil, fmt.Errorf("reward %q: cost must be positive, got %d", r.ID, r.Cost)
		}
		if _, dup := s.rewards[r.ID]; dup {
			return nil, fmt.Errorf("reward %q defined twice", r.ID)
		}
		s.rewards[r.ID] = r
	}
	return s, nil
}

func (s *Static) GetCoreValue(_ context.Context, id ledger.CoreValueID) (ledger.CoreValue, error) {
	v, ok := s.values[id]
	if !ok {
		return ledger.CoreValue{}, ledger.NotFound("core value", id)
	}
	return v, nil
}

func (s *Static) GetReward(_ context.Context, id ledger.RewardID) (ledger.Reward, error) {
	r, ok := s.rewards[id]
	if !ok {
		return ledger.Reward{}, ledger.NotFound("reward", id)
	}
	return r, nil
}

// ListCoreValues returns every core value ordered by name.
func (s *Static) ListCoreValues(context.Context) ([]ledger.CoreValue, error) {
	out := make([]ledger.CoreValue, 0, len(s.values))
	for _, v := range s.values {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListRewards returns active rewards, cheapest first.
func (s *Static) ListRewards(context.Context) ([]ledger.Reward, error) {
	out := make([]ledger.Reward, 0, len(s.rewards))
	for _, r := range s.rewards {
		if r.Active {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost < out[j].Cost
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// FILE FORMAT
// =============================================================================

type fileFormat struct {
	CoreValues []struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"core_values"`
	Rewards []struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		Cost        int64  `yaml:"cost"`
		Active      *bool  `yaml:"active"`
	} `yaml:"rewards"`
}

// Parse builds a Static catalog from YAML. Rewards without an explicit
// active flag are active.
func Parse(data []byte) (*Static, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	values := make([]ledger.CoreValue, 0, len(f.CoreValues))
	for _, v := range f.CoreValues {
		values = append(values, ledger.CoreValue{
			ID:          ledger.CoreValueID(v.ID),
			Name:        v.Name,
			Description: v.Description,
		})
	}
	rewards := make([]ledger.Reward, 0, len(f.Rewards))
	for _, r := range f.Rewards {
		rewards = append(rewards, ledger.Reward{
			ID:          ledger.RewardID(r.ID),
			Name:        r.Name,
			Description: r.Description,
			Cost:        r.Cost,
			Active:      r.Active == nil || *r.Active,
		})
	}
	return NewStatic(values, rewards)
}

// LoadFile reads and parses a catalog file.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}
