package ha

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// SiteTier indicates a site's role
type SiteTier string

const (
	TierPrimary   SiteTier = "primary"
	TierSecondary SiteTier = "secondary"
)

// Site is a location tenants can be served from
type Site struct {
	Name     string   `json:"name" yaml:"name"`
	Location string   `json:"location,omitempty" yaml:"location"`
	Tier     SiteTier `json:"tier" yaml:"tier"`
	Endpoint string   `json:"endpoint,omitempty" yaml:"endpoint"`
}

// SiteStatus combines a site with its current health
type SiteStatus struct {
	Site
	Healthy bool     `json:"healthy"`
	Tenants []string `json:"tenants,omitempty"`
}

// SiteSwitcher moves a tenant between sites
type SiteSwitcher interface {
	Failover(ctx context.Context, tenantID, target string) (string, error)
	Failback(ctx context.Context, tenantID string) (string, error)
	ActiveSite(tenantID string) string
}

// SiteManager tracks site health and which site serves each tenant.
// Tenants are served from the primary until they fail over.
type SiteManager struct {
	primary string
	sites   map[string]Site
	healthy map[string]bool
	active  map[string]string
	logger  *zap.Logger
	mu      sync.RWMutex
}

// NewSiteManager requires exactly one primary site
func NewSiteManager(sites []Site, logger *zap.Logger) (*SiteManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &SiteManager{
		sites:   make(map[string]Site, len(sites)),
		healthy: make(map[string]bool, len(sites)),
		active:  make(map[string]string),
		logger:  logger.Named("sites"),
	}
	for _, s := range sites {
		if s.Name == "" {
			return nil, errors.New("site name required")
		}
		if _, dup := m.sites[s.Name]; dup {
			return nil, fmt.Errorf("duplicate site %q", s.Name)
		}
		switch s.Tier {
		case TierPrimary:
			if m.primary != "" {
				return nil, fmt.Errorf("multiple primary sites: %s, %s", m.primary, s.Name)
			}
			m.primary = s.Name
		case TierSecondary:
		default:
			return nil, fmt.Errorf("site %s: unknown tier %q", s.Name, s.Tier)
		}
		m.sites[s.Name] = s
		m.healthy[s.Name] = true
	}
	if m.primary == "" {
		return nil, errors.New("primary site required")
	}
	return m, nil
}

// Primary returns the primary site name
func (m *SiteManager) Primary() string {
	return m.primary
}

// SetSiteHealth updates a site's health
func (m *SiteManager) SetSiteHealth(name string, healthy bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sites[name]; !ok {
		return fmt.Errorf("unknown site %q", name)
	}
	m.healthy[name] = healthy
	m.logger.Info("site health changed", zap.String("site", name), zap.Bool("healthy", healthy))
	return nil
}

// SiteHealthy reports a site's health
func (m *SiteManager) SiteHealthy(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy[name]
}

// ActiveSite returns the site serving the tenant
func (m *SiteManager) ActiveSite(tenantID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if site, ok := m.active[tenantID]; ok {
		return site
	}
	return m.primary
}

// selectTargetLocked picks the named site, or the first healthy secondary
func (m *SiteManager) selectTargetLocked(target, current string) (string, error) {
	if target != "" {
		if _, ok := m.sites[target]; !ok {
			return "", fmt.Errorf("unknown site %q", target)
		}
		if !m.healthy[target] {
			return "", fmt.Errorf("target site %s is unhealthy", target)
		}
		return target, nil
	}

	names := make([]string, 0, len(m.sites))
	for name, s := range m.sites {
		if s.Tier == TierSecondary && name != current {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if m.healthy[name] {
			return name, nil
		}
	}
	return "", errors.New("no healthy secondary site available")
}

// Failover moves the tenant to target, or to the first healthy secondary
func (m *SiteManager) Failover(ctx context.Context, tenantID, target string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.primary
	if site, ok := m.active[tenantID]; ok {
		current = site
	}
	site, err := m.selectTargetLocked(target, current)
	if err != nil {
		return "", err
	}
	m.active[tenantID] = site
	m.logger.Info("tenant failed over",
		zap.String("tenant_id", tenantID),
		zap.String("from", current),
		zap.String("to", site))
	return site, nil
}

// Failback returns the tenant to the primary site
func (m *SiteManager) Failback(ctx context.Context, tenantID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.healthy[m.primary] {
		return "", fmt.Errorf("primary site %s is unhealthy", m.primary)
	}
	from := m.primary
	if site, ok := m.active[tenantID]; ok {
		from = site
	}
	delete(m.active, tenantID)
	m.logger.Info("tenant failed back",
		zap.String("tenant_id", tenantID),
		zap.String("from", from),
		zap.String("to", m.primary))
	return m.primary, nil
}

// Status returns every site with its health and the tenants it serves
func (m *SiteManager) Status() []SiteStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	served := make(map[string][]string)
	for tenantID, site := range m.active {
		served[site] = append(served[site], tenantID)
	}

	out := make([]SiteStatus, 0, len(m.sites))
	for name, s := range m.sites {
		tenants := served[name]
		sort.Strings(tenants)
		out = append(out, SiteStatus{Site: s, Healthy: m.healthy[name], Tenants: tenants})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunStep performs a failover step
func (m *SiteManager) RunStep(ctx context.Context, plan *Plan, step Step) (map[string]string, error) {
	site, err := m.Failover(ctx, plan.TenantID, step.Parameters[ParamTargetSite])
	if err != nil {
		return nil, err
	}
	return map[string]string{"active_site": site}, nil
}

// ProbeStep checks a failover step could run without switching anything
func (m *SiteManager) ProbeStep(ctx context.Context, plan *Plan, step Step) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	current := m.primary
	if site, ok := m.active[plan.TenantID]; ok {
		current = site
	}
	_, err := m.selectTargetLocked(step.Parameters[ParamTargetSite], current)
	return err
}
