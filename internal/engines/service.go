// Package engines installs, inspects and removes inference engines. Each
// engine lives in its own directory under the engines root together with a
// version.json describing the release it came from.
package engines

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"llmd/internal/download"
	"llmd/internal/hostinfo"
	"llmd/internal/variant"
	"llmd/pkg/types"
)

// Engine names.
const (
	EngineLlamaCpp    = "llama-cpp"
	EngineOnnx        = "onnxruntime"
	EngineTensorrtLLM = "tensorrt-llm"
)

// Install states.
const (
	StateNotInstalled = "NotInstalled"
	StateInstalled    = "Installed"
	StateIncompatible = "Incompatible"
)

const versionFile = "version.json"

var (
	ErrUnsupportedEngine = errors.New("engines: unsupported engine")
	ErrEngineNotFound    = errors.New("engines: engine not installed")
	// ErrNoMatchingVariant means no release asset fits the host.
	ErrNoMatchingVariant = errors.New("engines: no release asset matches this host")
)

type engineSpec struct {
	name  string
	owner string
	repo  string
	// archToken overrides the asset-name spelling of normalized arches.
	archToken map[string]string
	gpu       bool
}

var knownEngines = []engineSpec{
	{name: EngineLlamaCpp, owner: "janhq", repo: "cortex.llamacpp", archToken: map[string]string{variant.ArchX64: "amd64"}, gpu: true},
	{name: EngineOnnx, owner: "janhq", repo: "cortex.onnx", archToken: map[string]string{variant.ArchX64: "amd64"}},
	{name: EngineTensorrtLLM, owner: "janhq", repo: "cortex.tensorrt-llm", gpu: true},
}

func lookupSpec(name string) (engineSpec, error) {
	for _, s := range knownEngines {
		if s.name == name {
			return s, nil
		}
	}
	return engineSpec{}, fmt.Errorf("%w: %s", ErrUnsupportedEngine, name)
}

func (e engineSpec) arch(host hostinfo.Info) string {
	if t, ok := e.archToken[host.Arch]; ok {
		return t
	}
	return host.Arch
}

// resolve picks the asset for host with the resolver matching the engine.
func (e engineSpec) resolve(assets []string, host hostinfo.Info) string {
	switch e.name {
	case EngineOnnx:
		return variant.ValidateOnnx(assets, host.OS, e.arch(host))
	case EngineTensorrtLLM:
		return variant.ValidateTensorrtLlm(assets, host.OS, host.CudaVersion)
	default:
		return variant.Validate(assets, host.OS, e.arch(host), host.AVX, host.CudaVersion)
	}
}

// compatible reports whether an installed asset can run on host.
func (e engineSpec) compatible(asset string, host hostinfo.Info) bool {
	if asset == "" {
		return true
	}
	if !strings.Contains(asset, "-"+host.OS) {
		return false
	}
	if e.name == EngineTensorrtLLM {
		return true
	}
	return strings.Contains(asset, "-"+e.arch(host))
}

// Downloader runs download tasks.
type Downloader interface {
	AddTask(ctx context.Context, task download.Task, onFinished func(download.Task)) (download.Task, error)
	AddAsyncDownloadTask(task download.Task, onFinished func(download.Task)) (string, error)
}

// Config holds the dependencies of a Service.
type Config struct {
	EnginesDir string
	Catalogue  *Catalogue
	Downloads  Downloader
	// CudaToolkitURL is a format string taking the toolkit version and OS.
	CudaToolkitURL string
	// Host overrides host detection.
	Host   *hostinfo.Info
	Logger zerolog.Logger
}

// InstallOptions selects what InstallEngine installs.
type InstallOptions struct {
	// Version is a release tag; empty means latest.
	Version string
	// LocalPath installs from an archive on disk without downloading.
	LocalPath string
	// Wait runs the download in the caller's goroutine.
	Wait bool
}

// InstallResult describes a started or finished installation.
type InstallResult struct {
	TaskID  string
	Version string
	Variant string
}

// versionInfo is the content of version.json.
type versionInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Variant     string `json:"variant"`
	InstalledAt string `json:"installed_at"`
}

// Service manages engine installations.
type Service struct {
	cfg Config
	log zerolog.Logger

	hostOnce sync.Once
	host     hostinfo.Info
}

// NewService constructs a Service.
func NewService(cfg Config) *Service {
	if cfg.Catalogue == nil {
		cfg.Catalogue = &Catalogue{}
	}
	if cfg.CudaToolkitURL == "" {
		cfg.CudaToolkitURL = defaultCudaToolkitURL
	}
	s := &Service{cfg: cfg, log: cfg.Logger.With().Str("component", "engines").Logger()}
	if cfg.Host != nil {
		s.host = *cfg.Host
		s.hostOnce.Do(func() {})
	}
	return s
}

func (s *Service) hostInfo() hostinfo.Info {
	s.hostOnce.Do(func() {
		s.host = hostinfo.Detect(context.Background())
		s.log.Info().Str("os", s.host.OS).Str("arch", s.host.Arch).Str("avx", s.host.AVX).
			Str("cuda", s.host.CudaVersion).Str("driver", s.host.CudaDriverVersion).Msg("host detected")
	})
	return s.host
}

// EngineDir returns the install directory of an engine.
func (s *Service) EngineDir(name string) string {
	return filepath.Join(s.cfg.EnginesDir, name)
}

// GetEngineInfo derives the install state of name from its directory.
func (s *Service) GetEngineInfo(name string) (types.EngineInfo, error) {
	spec, err := lookupSpec(name)
	if err != nil {
		return types.EngineInfo{}, err
	}
	info := types.EngineInfo{Name: name, State: StateNotInstalled}
	vi, err := readVersion(s.EngineDir(name))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn().Err(err).Str("engine", name).Msg("unreadable version file")
		}
		return info, nil
	}
	info.Version, info.Variant, info.Path = vi.Version, vi.Variant, s.EngineDir(name)
	info.State = StateInstalled
	if !spec.compatible(vi.Variant, s.hostInfo()) {
		info.State = StateIncompatible
	}
	return info, nil
}

// ListEngines reports every supported engine.
func (s *Service) ListEngines() []types.EngineInfo {
	out := make([]types.EngineInfo, 0, len(knownEngines))
	for _, spec := range knownEngines {
		info, _ := s.GetEngineInfo(spec.name)
		out = append(out, info)
	}
	return out
}

// GetReleases lists the catalogue releases of an engine.
func (s *Service) GetReleases(ctx context.Context, name string) ([]types.Release, error) {
	spec, err := lookupSpec(name)
	if err != nil {
		return nil, err
	}
	return s.cfg.Catalogue.Releases(ctx, spec.owner, spec.repo)
}

// InstallEngine installs name from a local archive or from the release
// catalogue. Remote installs download the asset matching the host, extract
// it over the engine directory and, for GPU builds the host driver can run,
// download the matching CUDA toolkit into the same directory.
func (s *Service) InstallEngine(ctx context.Context, name string, opts InstallOptions) (InstallResult, error) {
	spec, err := lookupSpec(name)
	if err != nil {
		return InstallResult{}, err
	}
	log := s.log.With().Str("engine", name).Logger()

	if opts.LocalPath != "" {
		version := opts.Version
		if version == "" {
			version = "local"
		}
		asset := filepath.Base(opts.LocalPath)
		if err := s.installArchive(name, opts.LocalPath, version, asset); err != nil {
			return InstallResult{}, err
		}
		log.Info().Str("path", opts.LocalPath).Msg("engine installed from local archive")
		return InstallResult{Version: version, Variant: asset}, nil
	}

	rel, err := s.cfg.Catalogue.Release(ctx, spec.owner, spec.repo, opts.Version)
	if err != nil {
		return InstallResult{}, fmt.Errorf("fetch release: %w", err)
	}
	names := make([]string, 0, len(rel.Assets))
	urls := make(map[string]string, len(rel.Assets))
	for _, a := range rel.Assets {
		names = append(names, a.Name)
		urls[a.Name] = a.DownloadURL
	}
	host := s.hostInfo()
	asset := spec.resolve(names, host)
	if asset == "" {
		log.Warn().Str("version", rel.Tag).Strs("assets", names).Msg("no asset matches host")
		return InstallResult{}, fmt.Errorf("%w: %s %s", ErrNoMatchingVariant, name, rel.Tag)
	}
	archive := filepath.Join(s.cfg.EnginesDir, ".downloads", asset)
	task := download.Task{
		ID:   name,
		Type: download.TypeEngine,
		Items: []download.Item{{
			ID:        asset,
			URL:       urls[asset],
			LocalPath: archive,
		}},
	}
	log.Info().Str("version", rel.Tag).Str("asset", asset).Msg("installing engine")

	var finishErr error
	onFinished := func(download.Task) {
		if err := s.installArchive(name, archive, rel.Tag, asset); err != nil {
			finishErr = err
			log.Error().Err(err).Msg("engine extraction failed")
			return
		}
		_ = os.Remove(archive)
		log.Info().Str("version", rel.Tag).Msg("engine installed")
		if spec.gpu && host.HasCuda() {
			s.installCudaToolkit(ctx, name, asset, host, opts.Wait)
		}
	}
	res := InstallResult{TaskID: task.ID, Version: rel.Tag, Variant: asset}
	if !opts.Wait {
		if _, err := s.cfg.Downloads.AddAsyncDownloadTask(task, onFinished); err != nil {
			return InstallResult{}, err
		}
		return res, nil
	}
	done, err := s.cfg.Downloads.AddTask(ctx, task, onFinished)
	if err != nil {
		return InstallResult{}, err
	}
	if done.Status != download.StatusCompleted {
		return res, fmt.Errorf("engine download %s", strings.ToLower(string(done.Status)))
	}
	return res, finishErr
}

func (s *Service) installCudaToolkit(ctx context.Context, name, asset string, host hostinfo.Info, wait bool) {
	log := s.log.With().Str("engine", name).Logger()
	toolkit := cudaToolkitFor(name, asset, host.OS, host.CudaDriverVersion)
	if toolkit == "" {
		log.Warn().Str("driver", host.CudaDriverVersion).Str("asset", asset).Msg("skipping CUDA toolkit: driver incompatible or not needed")
		return
	}
	archive := filepath.Join(s.cfg.EnginesDir, ".downloads", name+"-cuda-"+toolkit+".tar.gz")
	task := download.Task{
		ID:   name + "-cuda",
		Type: download.TypeCudaToolkit,
		Items: []download.Item{{
			ID:        "cuda",
			URL:       fmt.Sprintf(s.cfg.CudaToolkitURL, toolkit, host.OS),
			LocalPath: archive,
		}},
	}
	onFinished := func(download.Task) {
		if err := Extract(archive, s.EngineDir(name)); err != nil {
			log.Error().Err(err).Msg("CUDA toolkit extraction failed")
			return
		}
		_ = os.Remove(archive)
		log.Info().Str("toolkit", toolkit).Msg("CUDA toolkit installed")
	}
	var err error
	if wait {
		_, err = s.cfg.Downloads.AddTask(ctx, task, onFinished)
	} else {
		_, err = s.cfg.Downloads.AddAsyncDownloadTask(task, onFinished)
	}
	if err != nil {
		log.Error().Err(err).Msg("cannot queue CUDA toolkit download")
	}
}

// installArchive extracts into a staging directory and swaps it in place of
// the current installation.
func (s *Service) installArchive(name, archive, version, asset string) error {
	dir := s.EngineDir(name)
	staging := dir + ".staging"
	_ = os.RemoveAll(staging)
	if err := Extract(archive, staging); err != nil {
		_ = os.RemoveAll(staging)
		return fmt.Errorf("extract %s: %w", filepath.Base(archive), err)
	}
	vi := versionInfo{Name: name, Version: version, Variant: asset, InstalledAt: time.Now().UTC().Format(time.RFC3339)}
	if err := writeVersion(staging, vi); err != nil {
		_ = os.RemoveAll(staging)
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove previous install: %w", err)
	}
	return os.Rename(staging, dir)
}

// UninstallEngine removes the engine directory. Running workers keep their
// already-open executables.
func (s *Service) UninstallEngine(name string) error {
	if _, err := lookupSpec(name); err != nil {
		return err
	}
	dir := s.EngineDir(name)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrEngineNotFound, name)
		}
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	s.log.Info().Str("engine", name).Msg("engine uninstalled")
	return nil
}

func readVersion(dir string) (versionInfo, error) {
	b, err := os.ReadFile(filepath.Join(dir, versionFile))
	if err != nil {
		return versionInfo{}, err
	}
	var vi versionInfo
	if err := json.Unmarshal(b, &vi); err != nil {
		return versionInfo{}, fmt.Errorf("parse %s: %w", versionFile, err)
	}
	return vi, nil
}

func writeVersion(dir string, vi versionInfo) error {
	b, err := json.MarshalIndent(vi, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, versionFile), b, 0o644)
}
