package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tomo/mnemo/internal/logger"
	"github.com/tomo/mnemo/internal/manifest"
)

// Downloader fetches media bytes for manifest entries with a bounded worker
// pool. Per-item failures are reported alongside successes; the caller
// decides whether any of them are fatal.
type Downloader struct {
	client  *resty.Client
	workers int
}

// NewDownloader creates a downloader with the given concurrency and per-item
// timeout.
func NewDownloader(workers int, timeout time.Duration) *Downloader {
	if workers <= 0 {
		workers = 8
	}
	client := resty.New()
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &Downloader{client: client, workers: workers}
}

// Download holds the outcome for one manifest entry.
type Download struct {
	Entry manifest.Entry
	Data  []byte
	Err   error
}

// FetchAll downloads every entry and reports each outcome through the
// progress callback as it lands. Results preserve manifest order regardless
// of worker scheduling.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - entries: manifest entries to fetch.
//   - onProgress: called after each entry with the number done so far; may be nil.
// Returns:
//   - []Download: one result per entry, in entry order.
func (d *Downloader) FetchAll(ctx context.Context, entries []manifest.Entry, onProgress func(done int)) []Download {
	results := make([]Download, len(entries))
	indexChan := make(chan int, d.workers*2)
	var done int64

	var wg sync.WaitGroup
	for w := 0; w < d.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexChan {
				results[i] = d.fetchOne(ctx, entries[i])
				n := int(atomic.AddInt64(&done, 1))
				if onProgress != nil {
					onProgress(n)
				}
			}
		}()
	}

	for i := range entries {
		select {
		case indexChan <- i:
		case <-ctx.Done():
			// Remaining entries are marked cancelled below
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(indexChan)
	wg.Wait()

	if ctx.Err() != nil {
		for i := range results {
			if results[i].Data == nil && results[i].Err == nil {
				results[i] = Download{Entry: entries[i], Err: ctx.Err()}
			}
		}
	}
	return results
}

func (d *Downloader) fetchOne(ctx context.Context, entry manifest.Entry) Download {
	resp, err := d.client.R().SetContext(ctx).Get(entry.DownloadURL)
	if err != nil {
		return Download{Entry: entry, Err: fmt.Errorf("failed to download %s: %w", entry.DownloadURL, err)}
	}
	if resp.StatusCode() != 200 {
		return Download{Entry: entry, Err: fmt.Errorf("failed to download %s: HTTP %d", entry.DownloadURL, resp.StatusCode())}
	}
	body := resp.Body()
	if len(body) == 0 {
		return Download{Entry: entry, Err: fmt.Errorf("failed to download %s: empty response", entry.DownloadURL)}
	}
	logger.CtxDebug(ctx, "downloaded %s (%d bytes)", entry.DownloadURL, len(body))
	return Download{Entry: entry, Data: body}
}
