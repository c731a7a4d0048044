package main

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"llmd/internal/common/fsutil"
	"llmd/internal/config"
	"llmd/internal/download"
	"llmd/internal/engines"
	"llmd/internal/events"
	"llmd/internal/registry"
	"llmd/internal/supervisor"
)

// services is the in-process object graph shared by serve and the engines
// commands.
type services struct {
	bus        *events.Bus
	downloads  *download.Service
	engines    *engines.Service
	registry   *registry.Registry
	supervisor *supervisor.Supervisor
}

func newServices(cfg config.Config, log zerolog.Logger) (*services, error) {
	for _, dir := range []string{cfg.EnginesDir, cfg.ModelsDir, filepath.Dir(cfg.LogFile)} {
		if err := fsutil.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	reg, err := registry.LoadDir(cfg.ModelsDir)
	if err != nil {
		return nil, fmt.Errorf("load models: %w", err)
	}

	bus := events.New(log)
	dl := download.NewService(download.Config{
		Workers:           cfg.DownloadWorkers,
		ProgressThreshold: cfg.ProgressThresholdBytes,
		Publisher:         bus,
		Logger:            log,
	})
	eng := engines.NewService(engines.Config{
		EnginesDir:     cfg.EnginesDir,
		Catalogue:      &engines.Catalogue{BaseURL: cfg.CatalogueURL, Token: cfg.GithubToken},
		Downloads:      dl,
		CudaToolkitURL: cfg.CudaToolkitURL,
		Logger:         log,
	})
	sup := supervisor.New(supervisor.Config{
		EnginesDir:     cfg.EnginesDir,
		DefaultEngine:  cfg.DefaultEngine,
		LogPath:        cfg.LogFile,
		PortStart:      cfg.PortRangeStart,
		PortEnd:        cfg.PortRangeEnd,
		HealthRetries:  uint64(cfg.HealthRetries),
		HealthInterval: cfg.HealthInterval(),
		RequestTimeout: cfg.RequestTimeout(),
		Params:         reg,
		Publisher:      bus,
		Logger:         log,
	})
	return &services{bus: bus, downloads: dl, engines: eng, registry: reg, supervisor: sup}, nil
}

// close stops workers, then downloads, then the bus so that the final
// download and worker events are still delivered.
func (s *services) close() {
	s.supervisor.Shutdown()
	s.downloads.Close()
	s.bus.Close()
}

// eventTopics are the bus topics forwarded to /events subscribers.
func eventTopics() []string {
	topics := make([]string, 0, len(download.EventTypes)+1)
	for _, t := range download.EventTypes {
		topics = append(topics, string(t))
	}
	return append(topics, supervisor.TopicWorkerExited)
}
