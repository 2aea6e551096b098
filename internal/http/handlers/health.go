package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jmylchreest/vertd/internal/ffmpeg"
	"github.com/jmylchreest/vertd/internal/job"
)

// FFmpegInfoProvider provides FFmpeg binary information.
type FFmpegInfoProvider interface {
	Detect(ctx context.Context) (*ffmpeg.BinaryInfo, error)
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	registry  *job.Registry
	ffmpeg    FFmpegInfoProvider
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string, registry *job.Registry) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		registry:  registry,
	}
}

// WithFFmpeg sets the provider used to check the encoder binaries.
func (h *HealthHandler) WithFFmpeg(provider FFmpegInfoProvider) *HealthHandler {
	h.ffmpeg = provider
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status        string            `json:"status" doc:"healthy or degraded"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPUInfo       CPUInfo           `json:"cpu_info"`
	Memory        MemoryInfo        `json:"memory"`
	FFmpeg        FFmpegHealth      `json:"ffmpeg"`
	Jobs          job.Stats         `json:"jobs"`
	Checks        map[string]string `json:"checks"`
}

// CPUInfo holds load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds system and process memory figures in MiB.
type MemoryInfo struct {
	TotalMemoryMB     float64           `json:"total_memory_mb"`
	UsedMemoryMB      float64           `json:"used_memory_mb"`
	FreeMemoryMB      float64           `json:"free_memory_mb"`
	AvailableMemoryMB float64           `json:"available_memory_mb"`
	SwapTotalMB       float64           `json:"swap_total_mb"`
	SwapUsedMB        float64           `json:"swap_used_mb"`
	ProcessMemory     ProcessMemoryInfo `json:"process_memory"`
}

// ProcessMemoryInfo covers vertd and its running encoder children.
type ProcessMemoryInfo struct {
	MainProcessMB      float64 `json:"main_process_mb"`
	EncodersMB         float64 `json:"encoders_mb"`
	EncoderCount       int     `json:"encoder_count"`
	TotalProcessTreeMB float64 `json:"total_process_tree_mb"`
	PercentageOfSystem float64 `json:"percentage_of_system"`
}

// FFmpegHealth reports whether the encoder binaries were found.
type FFmpegHealth struct {
	Status      string `json:"status"`
	FFmpegPath  string `json:"ffmpeg_path,omitempty"`
	FFprobePath string `json:"ffprobe_path,omitempty"`
	Version     string `json:"version,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/api/v1/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics, encoder availability and job counts",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	ff := h.getFFmpegHealth(ctx)
	status := "healthy"
	if ff.Status != "ok" {
		status = "degraded"
	}

	var stats job.Stats
	if h.registry != nil {
		stats = h.registry.Stats()
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			CPUInfo:       h.getCPUInfo(),
			Memory:        h.getMemoryInfo(),
			FFmpeg:        ff,
			Jobs:          stats,
			Checks: map[string]string{
				"ffmpeg": ff.Status,
			},
		},
	}, nil
}

func (h *HealthHandler) getFFmpegHealth(ctx context.Context) FFmpegHealth {
	if h.ffmpeg == nil {
		return FFmpegHealth{Status: "unknown"}
	}
	info, err := h.ffmpeg.Detect(ctx)
	if err != nil {
		return FFmpegHealth{Status: "error", Error: err.Error()}
	}
	return FFmpegHealth{
		Status:      "ok",
		FFmpegPath:  info.FFmpegPath,
		FFprobePath: info.FFprobePath,
		Version:     info.Version,
	}
}

func (h *HealthHandler) getCPUInfo() CPUInfo {
	cores := runtime.NumCPU()
	info := CPUInfo{Cores: cores}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(cores)) * 100
		}
	}
	return info
}

func (h *HealthHandler) getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = mib(vmStat.Total)
		info.UsedMemoryMB = mib(vmStat.Used)
		info.FreeMemoryMB = mib(vmStat.Free)
		info.AvailableMemoryMB = mib(vmStat.Available)
	}

	swapStat, err := mem.SwapMemory()
	if err == nil && swapStat != nil {
		info.SwapTotalMB = mib(swapStat.Total)
		info.SwapUsedMB = mib(swapStat.Used)
	}

	info.ProcessMemory = h.getProcessMemoryInfo(info.TotalMemoryMB)
	return info
}

// getProcessMemoryInfo sums the RSS of vertd and its children, which are
// the running ffmpeg processes.
func (h *HealthHandler) getProcessMemoryInfo(totalSystemMB float64) ProcessMemoryInfo {
	info := ProcessMemoryInfo{}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}

	memInfo, err := proc.MemoryInfo()
	if err == nil && memInfo != nil {
		info.MainProcessMB = mib(memInfo.RSS)
		info.TotalProcessTreeMB = info.MainProcessMB
	}

	children, err := proc.Children()
	if err == nil {
		info.EncoderCount = len(children)
		for _, child := range children {
			childMem, err := child.MemoryInfo()
			if err == nil && childMem != nil {
				info.EncodersMB += mib(childMem.RSS)
			}
		}
		info.TotalProcessTreeMB += info.EncodersMB
	}

	if totalSystemMB > 0 {
		info.PercentageOfSystem = (info.TotalProcessTreeMB / totalSystemMB) * 100
	}
	return info
}

func mib(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
