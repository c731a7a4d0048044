package supervisor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const (
	chatPath      = "/v1/chat/completions"
	embeddingPath = "/v1/embeddings"
)

var doneFrame = []byte("data: [DONE]\n\n")

// ChatCompletion relays a chat request to the model's worker. A missing
// worker is reported as an error without invoking cb. Otherwise cb receives
// the response: one call for a plain request, one call per SSE frame for a
// streaming request. Exactly one call has IsDone set, including when the
// worker closes the stream without a [DONE] sentinel.
func (s *Supervisor) ChatCompletion(ctx context.Context, body map[string]any, cb Callback) error {
	w, err := s.target(body)
	if err != nil {
		return err
	}
	stream, _ := body["stream"].(bool)
	if stream {
		s.relayStream(ctx, w, body, cb)
		return nil
	}
	s.passThrough(ctx, w, chatPath, body, cb)
	return nil
}

// Embedding relays an embeddings request. It never streams.
func (s *Supervisor) Embedding(ctx context.Context, body map[string]any, cb Callback) error {
	w, err := s.target(body)
	if err != nil {
		return err
	}
	s.passThrough(ctx, w, embeddingPath, body, cb)
	return nil
}

func (s *Supervisor) target(body map[string]any) (*worker, error) {
	id, _ := body["model"].(string)
	w, ok := s.lookup(id)
	if !ok {
		return nil, NotLoadedError{ModelID: id}
	}
	return w, nil
}

// post sends body to the worker. The returned cancel releases the request
// timeout once the response body is consumed.
func (s *Supervisor) post(ctx context.Context, w *worker, path string, body map[string]any) (*http.Response, context.CancelFunc, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, nil, err
	}
	cancel := context.CancelFunc(func() {})
	if s.cfg.RequestTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
	}
	url := "http://" + w.host + ":" + strconv.Itoa(w.port) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return resp, cancel, nil
}

func (s *Supervisor) passThrough(ctx context.Context, w *worker, path string, body map[string]any, cb Callback) {
	resp, cancel, err := s.post(ctx, w, path, body)
	if err != nil {
		s.log.Warn().Err(err).Str("model_id", w.modelID).Str("path", path).Msg("worker request failed")
		cb(Status{StatusCode: http.StatusBadGateway, IsDone: true, HasError: true}, errorJSON(err))
		return
	}
	defer cancel()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		cb(Status{StatusCode: http.StatusBadGateway, IsDone: true, HasError: true}, errorJSON(err))
		return
	}
	cb(Status{StatusCode: resp.StatusCode, IsDone: true, HasError: resp.StatusCode >= 400}, b)
}

func (s *Supervisor) relayStream(ctx context.Context, w *worker, body map[string]any, cb Callback) {
	resp, cancel, err := s.post(ctx, w, chatPath, body)
	if err != nil {
		s.log.Warn().Err(err).Str("model_id", w.modelID).Msg("stream request failed")
		cb(Status{StatusCode: http.StatusBadGateway, IsDone: true, HasError: true, IsStream: true}, errorFrame(err))
		return
	}
	defer cancel()
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		cb(Status{StatusCode: resp.StatusCode, IsDone: true, HasError: true}, b)
		return
	}

	ok := Status{StatusCode: http.StatusOK, IsStream: true}
	r := bufio.NewReader(resp.Body)
	for {
		line, err := r.ReadString('\n')
		if l := strings.TrimSpace(line); strings.HasPrefix(l, "data:") {
			data := strings.TrimSpace(l[len("data:"):])
			if data == "[DONE]" {
				cb(Status{StatusCode: http.StatusOK, IsDone: true, IsStream: true}, doneFrame)
				return
			}
			cb(ok, []byte("data: "+data+"\n\n"))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Debug().Str("model_id", w.modelID).Msg("stream closed without [DONE]")
				cb(Status{StatusCode: http.StatusOK, IsDone: true, IsStream: true}, doneFrame)
				return
			}
			s.log.Warn().Err(err).Str("model_id", w.modelID).Msg("stream interrupted")
			cb(Status{StatusCode: http.StatusOK, IsDone: true, HasError: true, IsStream: true}, errorFrame(err))
			return
		}
	}
}

func errorJSON(err error) []byte {
	b, _ := json.Marshal(map[string]any{"error": map[string]string{"message": err.Error()}})
	return b
}

func errorFrame(err error) []byte {
	return []byte(fmt.Sprintf("data: %s\n\n", errorJSON(err)))
}
