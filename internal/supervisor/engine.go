package supervisor

import (
	"path/filepath"
	"runtime"
	"strconv"

	"llmd/internal/common/fsutil"
)

// Engine builds the command line of a worker process. The supervisor owns
// spawning; engines only locate executables inside their install directory.
type Engine interface {
	Name() string
	// Command returns the executable and argv for a worker serving on host:port.
	Command(engineDir string, args []string, host string, port int, embedding bool) (string, []string, error)
}

// LocalProcessEngine runs a native OpenAI-compatible server such as llama-server.
type LocalProcessEngine struct {
	EngineName string
	// Executables are tried in order while walking the engine directory.
	Executables []string
}

func (e LocalProcessEngine) Name() string { return e.EngineName }

func (e LocalProcessEngine) Command(dir string, args []string, host string, port int, embedding bool) (string, []string, error) {
	names := e.Executables
	if runtime.GOOS == "windows" {
		win := make([]string, 0, len(names))
		for _, n := range names {
			win = append(win, n+".exe")
		}
		names = win
	}
	exe, err := fsutil.FindFile(dir, names...)
	if err != nil {
		return "", nil, EngineNotInstalledError{Engine: e.EngineName, Reason: "worker executable not found"}
	}
	argv := append(append([]string(nil), args...), "--host", host, "--port", strconv.Itoa(port))
	if embedding {
		argv = append(argv, "--pooling", "mean")
	}
	return exe, argv, nil
}

// PythonSubprocessEngine runs a Python entry script with the interpreter of
// the virtual environment shipped in the engine directory.
type PythonSubprocessEngine struct {
	EngineName string
	Entry      string
}

func (e PythonSubprocessEngine) Name() string { return e.EngineName }

func (e PythonSubprocessEngine) Command(dir string, args []string, host string, port int, _ bool) (string, []string, error) {
	python := "python"
	if runtime.GOOS == "windows" {
		python = "python.exe"
	}
	interp, err := fsutil.FindFile(dir, python, "python3")
	if err != nil {
		return "", nil, EngineNotInstalledError{Engine: e.EngineName, Reason: "python environment not found"}
	}
	entry := e.Entry
	if entry == "" {
		entry = "main.py"
	}
	script, err := fsutil.FindFile(dir, entry)
	if err != nil {
		return "", nil, EngineNotInstalledError{Engine: e.EngineName, Reason: filepath.Base(entry) + " not found"}
	}
	argv := append([]string{script}, args...)
	argv = append(argv, "--host", host, "--port", strconv.Itoa(port))
	return interp, argv, nil
}

// DefaultEngines returns the engine kinds selectable by name.
func DefaultEngines() map[string]Engine {
	return map[string]Engine{
		"llama-cpp":    LocalProcessEngine{EngineName: "llama-cpp", Executables: []string{"llama-server", "server"}},
		"onnxruntime":  PythonSubprocessEngine{EngineName: "onnxruntime"},
		"tensorrt-llm": PythonSubprocessEngine{EngineName: "tensorrt-llm"},
	}
}
