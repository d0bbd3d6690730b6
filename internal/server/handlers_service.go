package server

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/sternforth/vantage/internal/version"
)

// SystemInfo summarizes host load for the health endpoint.
type SystemInfo struct {
	Cores         int     `json:"cores"`
	Load1Min      float64 `json:"load_1m"`
	Load5Min      float64 `json:"load_5m"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`
}

// HealthResponse is the /api/health body.
type HealthResponse struct {
	Status        string               `json:"status"`
	Version       string               `json:"version"`
	UptimeSeconds float64              `json:"uptime_seconds"`
	UpdateCheck   version.UpdateStatus `json:"update_check"`
	System        SystemInfo           `json:"system"`
}

type healthInput struct{}

type healthOutput struct {
	Body HealthResponse
}

func (s *Server) getHealth(ctx context.Context, _ *healthInput) (*healthOutput, error) {
	var update version.UpdateStatus
	if s.checker != nil && s.cfg.UpdateChecks {
		update = s.checker.Status(ctx)
	}

	system := SystemInfo{Cores: runtime.NumCPU()}
	if avg, err := load.Avg(); err == nil && avg != nil {
		system.Load1Min = avg.Load1
		system.Load5Min = avg.Load5
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		system.MemoryTotalMB = float64(vm.Total) / 1024 / 1024
		system.MemoryUsedMB = float64(vm.Used) / 1024 / 1024
	}

	return &healthOutput{Body: HealthResponse{
		Status:        "healthy",
		Version:       version.GetInfo().Version,
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		UpdateCheck:   update,
		System:        system,
	}}, nil
}

// ServiceEntry describes one hosted adapter.
type ServiceEntry struct {
	Tag        string   `json:"tag"`
	Aliases    []string `json:"aliases,omitempty"`
	Geofence   []string `json:"geofence,omitempty"`
	TitleRegex []string `json:"title_regex,omitempty"`
	URL        string   `json:"url,omitempty"`
	Help       string   `json:"help,omitempty"`
}

type servicesInput struct{}

type servicesOutput struct {
	Body struct {
		Services []ServiceEntry `json:"services"`
	}
}

func (s *Server) serviceEntries() []ServiceEntry {
	descriptors := s.registry.Descriptors()
	entries := make([]ServiceEntry, 0, len(descriptors))
	for _, d := range descriptors {
		if s.registry.IsRemote(d.Tag) {
			continue
		}
		entry := ServiceEntry{
			Tag:        d.Tag,
			Aliases:    d.Aliases,
			Geofence:   d.Geofence,
			TitleRegex: d.TitlePatterns(),
			Help:       d.Help,
		}
		if svcCfg, ok := s.cfg.Services[d.Tag]; ok {
			if url, ok := svcCfg["url"].(string); ok {
				entry.URL = url
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

func (s *Server) listServices(_ context.Context, _ *servicesInput) (*servicesOutput, error) {
	out := &servicesOutput{}
	out.Body.Services = s.serviceEntries()
	return out, nil
}

type discoveryOutput struct {
	Body struct {
		Status   string         `json:"status"`
		Services []ServiceEntry `json:"services"`
	}
}

func (s *Server) discoverServices(_ context.Context, _ *servicesInput) (*discoveryOutput, error) {
	out := &discoveryOutput{}
	out.Body.Status = "success"
	out.Body.Services = s.serviceEntries()
	return out, nil
}
