package supervisor

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ignoredParams are model config keys the worker binary does not accept.
var ignoredParams = map[string]bool{
	"model": true, "model_alias": true, "embedding": true, "ai_prompt": true,
	"ai_template": true, "prompt_template": true, "mmproj": true, "system_prompt": true,
	"created": true, "stream": true, "name": true, "os": true, "owned_by": true,
	"files": true, "gpu_arch": true, "quantization_method": true, "engine": true,
	"system_template": true, "max_tokens": true, "user_template": true, "user_prompt": true,
	"min_keep": true, "mirostat": true, "mirostat_eta": true, "mirostat_tau": true,
	"text_model": true, "version": true, "n_probs": true, "object": true,
	"penalize_nl": true, "precision": true, "size": true, "stop": true, "tfs_z": true,
	"typ_p": true, "caching_enabled": true, "id": true,
}

// renamedParams maps model config keys to worker flags.
var renamedParams = map[string]string{
	"cpu_threads":       "--threads",
	"n_ubatch":          "--ubatch-size",
	"n_batch":           "--batch-size",
	"n_parallel":        "--parallel",
	"temperature":       "--temp",
	"top_k":             "--top-k",
	"top_p":             "--top-p",
	"min_p":             "--min-p",
	"dynatemp_exponent": "--dynatemp-exp",
	"ctx_len":           "--ctx-size",
	"ngl":               "-ngl",
	"reasoning_budget":  "--reasoning-budget",
	"model_path":        "--model",
	"llama_model_path":  "--model",
}

// ConvertArgs translates model parameters into a worker argument vector.
// Keys are processed in sorted order. A boolean true becomes a bare flag and
// false is dropped; arrays are rendered as "[a, b]".
func ConvertArgs(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var args []string
	for _, k := range keys {
		v := params[k]
		if ignoredParams[k] || v == nil {
			continue
		}
		if k == "model_type" {
			if s, _ := v.(string); s == "embedding" {
				args = append(args, "--embedding")
			}
			continue
		}
		flag, ok := renamedParams[k]
		if !ok {
			flag = "--" + k
		}
		if b, isBool := v.(bool); isBool {
			if b {
				args = append(args, flag)
			}
			continue
		}
		args = append(args, flag, formatParam(v))
	}
	return args
}

// IsEmbedding reports whether params describe an embedding model.
func IsEmbedding(params map[string]any) bool {
	s, _ := params["model_type"].(string)
	return s == "embedding"
}

func formatParam(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			parts = append(parts, formatParam(e))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []string:
		return "[" + strings.Join(x, ", ") + "]"
	default:
		return fmt.Sprint(x)
	}
}
