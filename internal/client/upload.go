package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"catalog-desk/internal/domain"
)

// progressReader reports consumed bytes as a 0..100 percentage. Progress is
// byte-upload progress, not server-side processing progress.
type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	lastPct    int
	onProgress func(int)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 && p.total > 0 && p.onProgress != nil {
		p.read += int64(n)
		pct := int(p.read * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		if pct > p.lastPct {
			p.lastPct = pct
			p.onProgress(pct)
		}
	}
	return n, err
}

// Upload streams a spreadsheet to the backend as multipart/form-data under
// the field name "file". onProgress (optional) receives monotonically
// increasing percentages. Cancel via ctx; a cancelled upload returns
// context.Canceled, which IsCanceled distinguishes from real failures.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader, size int64, onProgress func(int)) (domain.UploadResult, error) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		part, err := form.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(form.Close())
	}()

	body := &progressReader{r: pr, total: size, onProgress: onProgress}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", body)
	if err != nil {
		return domain.UploadResult{}, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return domain.UploadResult{}, ctx.Err()
		}
		return domain.UploadResult{}, fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.UploadResult{}, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body, resp.StatusCode)}
	}

	var result domain.UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.UploadResult{}, fmt.Errorf("failed to decode upload response: %w", err)
	}
	if onProgress != nil {
		onProgress(100)
	}
	return result, nil
}

// UploadStatus polls the optional server-side processing status for an
// upload task.
func (c *Client) UploadStatus(ctx context.Context, taskID string) (done bool, progress int, err error) {
	var status struct {
		Done     bool `json:"done"`
		Progress int  `json:"progress"`
	}
	path := "/api/upload/status/" + url.PathEscape(taskID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &status); err != nil {
		return false, 0, err
	}
	return status.Done, status.Progress, nil
}

// WaitForProcessing polls UploadStatus until the task completes, the poll
// interval elapses without completion, or ctx is cancelled.
func (c *Client) WaitForProcessing(ctx context.Context, taskID string, interval time.Duration, onProgress func(int)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		done, progress, err := c.UploadStatus(ctx, taskID)
		if err != nil {
			return err
		}
		if onProgress != nil && progress > 0 {
			onProgress(progress)
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
