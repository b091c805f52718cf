package dhus

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"s2batch/internal/catalog"
	s2errors "s2batch/internal/errors"
	"s2batch/internal/httpclient"
	"s2batch/internal/observability"
)

// IncompleteSuffix marks an archive that is still being written.
const IncompleteSuffix = ".incomplete"

type productDoc struct {
	D struct {
		ID       string `json:"Id"`
		Name     string `json:"Name"`
		Online   *bool  `json:"Online"`
		Checksum struct {
			Algorithm string `json:"Algorithm"`
			Value     string `json:"Value"`
		} `json:"Checksum"`
	} `json:"d"`
}

func (c *Client) productURL(id string) string {
	return fmt.Sprintf("%sodata/v1/Products('%s')", c.baseURL, id)
}

// Status reads the OData product document. Hubs without the Online property
// serve every product directly and are reported online.
func (c *Client) Status(ctx context.Context, id string) (catalog.Status, error) {
	return s2errors.RetryWithResultAndLog(ctx, c.cfg.Retry, func(ctx context.Context) (catalog.Status, error) {
		callCtx, cancel := c.withCallTimeout(ctx)
		defer cancel()

		resp, err := c.get(callCtx, "status", c.productURL(id)+"?$format=json")
		if err != nil {
			return catalog.Status{}, err
		}
		defer resp.Body.Close()

		body, err := httpclient.ReadBody(resp.Body, "product document", maxProductDocBytes)
		if httpclient.IsBodyTooLarge(err) {
			return catalog.Status{}, &s2errors.PermanentError{Err: fmt.Errorf("dhus: product %s: %w", id, err), StatusCode: resp.StatusCode}
		}
		if err != nil {
			return catalog.Status{}, s2errors.NewTransientError(err, fmt.Sprintf("dhus: read product %s: %v", id, err))
		}
		var doc productDoc
		if err := json.Unmarshal(body, &doc); err != nil {
			return catalog.Status{}, fmt.Errorf("dhus: decode product %s: %w", id, err)
		}

		status := catalog.Status{Availability: catalog.Online}
		if doc.D.Online != nil && !*doc.D.Online {
			status.Availability = catalog.Offline
			c.catMetrics.RecordOffline()
		}
		if strings.EqualFold(doc.D.Checksum.Algorithm, "MD5") || doc.D.Checksum.Algorithm == "" {
			status.Checksum = strings.ToLower(doc.D.Checksum.Value)
		}
		return status, nil
	}, c.logger)
}

// Download streams the archive to destDir/<name>.zip.incomplete, verifies the
// MD5 checksum when p carries one, and renames it into place. A 202 response
// means the hub started a long-term-archive restore and yields
// catalog.ErrOffline.
func (c *Client) Download(ctx context.Context, p catalog.Product, destDir string) (string, error) {
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanProductDownload, observability.ProductAttrs(p.ID, p.Name())...)
	target := filepath.Join(destDir, p.ArchiveName())

	err := s2errors.RetryWithLog(ctx, c.cfg.Retry, func(ctx context.Context) error {
		return c.downloadOnce(ctx, p, target)
	}, c.logger)
	observability.EndSpan(span, err)
	if err != nil {
		return "", err
	}
	return target, nil
}

func (c *Client) downloadOnce(ctx context.Context, p catalog.Product, target string) error {
	if c.cfg.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DownloadTimeout)
		defer cancel()
	}

	resp, err := c.get(ctx, "download", c.productURL(p.ID)+"/$value")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		c.catMetrics.RecordOffline()
		return &s2errors.PermanentError{
			Err:        fmt.Errorf("%w: %s retrieval from long-term archive triggered", catalog.ErrOffline, p.Name()),
			StatusCode: resp.StatusCode,
		}
	}

	partial := target + IncompleteSuffix
	f, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("dhus: create %s: %w", partial, err)
	}

	var sum hash.Hash
	var w io.Writer = f
	if p.Checksum != "" {
		sum = md5.New()
		w = io.MultiWriter(f, sum)
	}

	n, copyErr := io.Copy(w, resp.Body)
	closeErr := f.Close()
	c.metrics.RecordDownloadBytes(ctx, n)
	if copyErr != nil {
		_ = os.Remove(partial)
		return s2errors.NewTransientError(copyErr, fmt.Sprintf("dhus: download %s interrupted after %d bytes: %v", p.Name(), n, copyErr))
	}
	if closeErr != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("dhus: close %s: %w", partial, closeErr)
	}

	if sum != nil {
		got := hex.EncodeToString(sum.Sum(nil))
		if !strings.EqualFold(got, p.Checksum) {
			_ = os.Remove(partial)
			c.catMetrics.RecordChecksumMismatch()
			return s2errors.NewTransientError(
				fmt.Errorf("%w: %s", catalog.ErrChecksumMismatch, p.Name()),
				fmt.Sprintf("dhus: %s checksum %s does not match %s", p.Name(), got, p.Checksum),
			)
		}
	}

	if err := os.Rename(partial, target); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("dhus: finalize %s: %w", target, err)
	}
	return nil
}

// TriggerRetrieval requests the archive once so the hub queues a restore.
// The response body is discarded.
func (c *Client) TriggerRetrieval(ctx context.Context, id string) error {
	callCtx, cancel := c.withCallTimeout(ctx)
	defer cancel()

	resp, err := c.get(callCtx, "retrieve", c.productURL(id)+"/$value")
	if err != nil {
		return err
	}
	resp.Body.Close()
	c.logger.Info("retrieval requested for %s (status %d)", id, resp.StatusCode)
	return nil
}
