// Package bulk runs batched indicator lookups from uploaded CSV files.
package bulk

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/threatlens/threatlens/internal/aggregate"
	"github.com/threatlens/threatlens/internal/config"
	"github.com/threatlens/threatlens/internal/database"
	"github.com/threatlens/threatlens/internal/ioc"
	"github.com/threatlens/threatlens/internal/models"
)

// Exported CSV column order. Provider columns match the lookup display order.
var exportHeader = []string{
	"IOC", "Type", "Verdict", "Score", "First Seen", "Last Seen",
	"VirusTotal", "AbuseIPDB", "OTX", "Error",
}

var exportProviders = []string{"virustotal", "abuseipdb", "otx"}

// Processor parses bulk uploads and drives them through the lookup engine.
type Processor struct {
	engine *aggregate.Engine
	store  database.Store
	cfg    config.BulkConfig
	sleep  func(time.Duration)
}

func New(engine *aggregate.Engine, store database.Store, cfg config.BulkConfig) *Processor {
	return &Processor{
		engine: engine,
		store:  store,
		cfg:    cfg,
		sleep:  time.Sleep,
	}
}

// ParseCSV extracts indicators from the first column of an uploaded CSV.
// Rows that are blank or fail classification are skipped, not fatal.
func (p *Processor) ParseCSV(filename string, size int64, r io.Reader) ([]string, error) {
	if !strings.HasSuffix(strings.ToLower(filename), ".csv") {
		return nil, fmt.Errorf("unsupported file type %q: only .csv files are accepted", filename)
	}
	if size > p.cfg.MaxFileSizeBytes {
		return nil, fmt.Errorf("file too large: %d bytes exceeds the %d byte limit", size, p.cfg.MaxFileSizeBytes)
	}

	reader := csv.NewReader(io.LimitReader(r, p.cfg.MaxFileSizeBytes+1))
	reader.FieldsPerRecord = -1

	var indicators []string
	var skipped int
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed rows are skipped the same way invalid indicators are.
			skipped++
			log.Debug().Err(err).Int("line", line).Msg("skipping malformed csv row")
			continue
		}
		if len(record) == 0 {
			continue
		}
		value := strings.TrimSpace(record[0])
		if value == "" {
			continue
		}
		if _, err := ioc.Classify(value); err != nil {
			skipped++
			log.Debug().Str("value", value).Int("line", line).Msg("skipping unclassifiable indicator")
			continue
		}
		indicators = append(indicators, value)
	}

	if len(indicators) == 0 {
		return nil, fmt.Errorf("no valid indicators found in %s", filename)
	}
	if skipped > 0 {
		log.Info().Int("skipped", skipped).Int("accepted", len(indicators)).Msg("csv parsed with skipped rows")
	}
	return indicators, nil
}

// Submit creates a pending job for the given indicators and persists it.
func (p *Processor) Submit(ctx context.Context, filename string, size int64, indicators []string, forceRefresh bool) (*models.BulkJob, error) {
	job := &models.BulkJob{
		ID:               uuid.New().String(),
		Status:           models.JobPending,
		TotalIOCs:        len(indicators),
		OriginalFilename: filename,
		FileSize:         size,
		IOCList:          indicators,
		ForceRefresh:     forceRefresh,
		CreatedAt:        time.Now().UTC(),
	}
	if err := p.store.CreateBulkJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating bulk job: %w", err)
	}
	log.Info().Str("job_id", job.ID).Int("total", job.TotalIOCs).Str("filename", filename).Msg("bulk job submitted")
	return job, nil
}

// Run processes a pending job to completion, persisting progress after every
// indicator. It is intended to be called once, on its own goroutine.
func (p *Processor) Run(ctx context.Context, jobID string) {
	job, err := p.store.GetBulkJob(ctx, jobID)
	if err != nil || job == nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("bulk job not found for processing")
		return
	}
	if job.Status != models.JobPending {
		log.Warn().Str("job_id", jobID).Str("status", string(job.Status)).Msg("bulk job not pending, refusing to run")
		return
	}

	now := time.Now().UTC()
	job.Status = models.JobProcessing
	job.StartedAt = &now
	if err := p.store.UpdateBulkJob(ctx, job); err != nil {
		p.fail(ctx, job, fmt.Errorf("marking job processing: %w", err))
		return
	}

	pause := time.Duration(p.cfg.PauseMs) * time.Millisecond
	for i, indicator := range job.IOCList {
		item := models.BulkItemResult{IOC: indicator, ProcessedAt: time.Now().UTC()}

		result, err := p.engine.Check(ctx, indicator, job.ForceRefresh)
		if err != nil {
			item.Error = err.Error()
			job.FailedIOCs++
		} else {
			item.Result = result
			job.CompletedIOCs++
		}
		job.ProcessedIOCs++
		job.Results = append(job.Results, item)

		if err := p.store.UpdateBulkJob(ctx, job); err != nil {
			p.fail(ctx, job, fmt.Errorf("persisting progress: %w", err))
			return
		}

		if pause > 0 && i < len(job.IOCList)-1 {
			p.sleep(pause)
		}
	}

	done := time.Now().UTC()
	job.Status = models.JobCompleted
	job.CompletedAt = &done
	if err := p.store.UpdateBulkJob(ctx, job); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("failed to persist completed job")
		return
	}
	log.Info().
		Str("job_id", job.ID).
		Int("completed", job.CompletedIOCs).
		Int("failed", job.FailedIOCs).
		Msg("bulk job completed")
}

func (p *Processor) fail(ctx context.Context, job *models.BulkJob, cause error) {
	log.Error().Err(cause).Str("job_id", job.ID).Msg("bulk job failed")
	now := time.Now().UTC()
	job.Status = models.JobFailed
	job.ErrorMessage = cause.Error()
	job.CompletedAt = &now
	if err := p.store.UpdateBulkJob(ctx, job); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("failed to persist failed job")
	}
}

// Progress returns a snapshot of the job's counters.
func (p *Processor) Progress(ctx context.Context, jobID string) (*models.BulkProgress, error) {
	job, err := p.store.GetBulkJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("loading bulk job: %w", err)
	}
	if job == nil {
		return nil, nil
	}
	progress := &models.BulkProgress{
		JobID:     job.ID,
		Status:    job.Status,
		Total:     job.TotalIOCs,
		Processed: job.ProcessedIOCs,
		Completed: job.CompletedIOCs,
		Failed:    job.FailedIOCs,
	}
	if job.TotalIOCs > 0 {
		progress.Percentage = float64(job.ProcessedIOCs) / float64(job.TotalIOCs) * 100
	}
	return progress, nil
}

// ExportCSV renders a finished job's results as a downloadable CSV.
func (p *Processor) ExportCSV(ctx context.Context, jobID string) ([]byte, string, error) {
	job, err := p.store.GetBulkJob(ctx, jobID)
	if err != nil {
		return nil, "", fmt.Errorf("loading bulk job: %w", err)
	}
	if job == nil {
		return nil, "", fmt.Errorf("bulk job %s not found", jobID)
	}
	if len(job.Results) == 0 {
		return nil, "", fmt.Errorf("bulk job %s has no results to export", jobID)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, "", err
	}
	for _, item := range job.Results {
		if err := w.Write(exportRow(item)); err != nil {
			return nil, "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", err
	}

	name := strings.TrimSuffix(job.OriginalFilename, ".csv") + "_results.csv"
	return buf.Bytes(), name, nil
}

func exportRow(item models.BulkItemResult) []string {
	row := []string{item.IOC, "", "", "", "", "", "", "", "", item.Error}
	if item.Result == nil {
		return row
	}
	r := item.Result
	row[1] = string(r.Indicator.Type)
	row[2] = string(r.Summary.Verdict)
	row[3] = strconv.Itoa(r.Summary.Score)
	row[4] = r.Summary.FirstSeen
	row[5] = r.Summary.LastSeen
	for i, provider := range exportProviders {
		row[6+i] = providerCell(r.Providers, provider)
	}
	return row
}

// providerCell is the reputation when available, otherwise the slot status.
func providerCell(slots []models.ProviderResult, provider string) string {
	for _, slot := range slots {
		if slot.Provider != provider {
			continue
		}
		if slot.Status == models.StatusOK && slot.Reputation != nil {
			return strconv.Itoa(*slot.Reputation)
		}
		return string(slot.Status)
	}
	return ""
}
