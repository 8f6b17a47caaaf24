package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/chorus/internal/domain/model"
	"github.com/okian/chorus/pkg/logger"
)

const (
	resultAccepted  = "accepted"
	resultLocalOnly = "local_only"
	resultFailed    = "failed"

	progressInterval = time.Second
)

// httpClient wraps http.Client with the node's base URL.
type httpClient struct {
	client  *http.Client
	baseURL string
}

func newHTTPClient(baseURL string, timeout time.Duration) *httpClient {
	return &httpClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (c *httpClient) getJSON(ctx context.Context, path string, query url.Values, v any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	body, err := readResponseBody(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: status %d", path, resp.StatusCode)
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *httpClient) postJSON(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("post %s: %w", path, err)
	}
	out, err := readResponseBody(resp)
	return resp, out, err
}

// readResponseBody reads and closes the response body.
func readResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return b, nil
}

// submitScripts posts every script with a pool of workers. A script is owned
// by one worker so a reader's updates reach the node in order.
func submitScripts(ctx context.Context, cfg *Config, client *httpClient, scripts []Script, stats *Stats) {
	log := logger.Get().Named("simulate")
	total := 0
	for _, s := range scripts {
		total += len(s.Updates)
	}
	log.Info(ctx, "submitting progress updates",
		logger.Int("readers", len(scripts)),
		logger.Int("updates", total),
		logger.Int("workers", cfg.Workers))

	var submitted, accepted, localOnly, failed int64
	var lastReport atomic.Int64

	work := make(chan *Script, cfg.Workers*2)
	var wg sync.WaitGroup
	for range cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range work {
				for _, u := range s.Updates {
					if ctx.Err() != nil {
						return
					}
					switch submitUpdate(ctx, client, u) {
					case resultAccepted:
						atomic.AddInt64(&accepted, 1)
					case resultLocalOnly:
						atomic.AddInt64(&localOnly, 1)
					default:
						atomic.AddInt64(&failed, 1)
					}
					n := atomic.AddInt64(&submitted, 1)

					now := time.Now().UnixNano()
					last := lastReport.Load()
					if now-last >= int64(progressInterval) && lastReport.CompareAndSwap(last, now) {
						log.Info(ctx, "submission progress",
							logger.Int64("submitted", n),
							logger.Int("total", total),
							logger.Int64("failed", atomic.LoadInt64(&failed)))
					}
				}
			}
		}()
	}

	go func() {
		defer close(work)
		for i := range scripts {
			select {
			case <-ctx.Done():
				return
			case work <- &scripts[i]:
			}
		}
	}()
	wg.Wait()

	stats.ActionsSubmitted = int(atomic.LoadInt64(&submitted))
	stats.ActionsAccepted = int(atomic.LoadInt64(&accepted))
	stats.ActionsLocalOnly = int(atomic.LoadInt64(&localOnly))
	stats.ActionsFailed = int(atomic.LoadInt64(&failed))

	log.Info(ctx, "submission completed",
		logger.Int("accepted", stats.ActionsAccepted),
		logger.Int("localOnly", stats.ActionsLocalOnly),
		logger.Int("failed", stats.ActionsFailed))
}

func submitUpdate(ctx context.Context, client *httpClient, u model.ProgressUpdate) string {
	resp, body, err := client.postJSON(ctx, "/events", eventRequest{Name: model.EventProgressUpdate, Payload: u})
	if err != nil || resp.StatusCode != http.StatusAccepted {
		return resultFailed
	}
	var ack ackResponse
	if err := json.Unmarshal(body, &ack); err == nil && ack.Status == resultLocalOnly {
		return resultLocalOnly
	}
	return resultAccepted
}
