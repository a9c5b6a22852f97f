package triage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"triagem/lib/cadastre"
	"triagem/lib/ledger"
	"triagem/lib/report"
	"triagem/lib/resultstore"
	"triagem/lib/timezone"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Request is one batch of work. Protocols are resolved to their indices
// first, plain indices are processed as they are.
type Request struct {
	Credentials cadastre.Credentials
	Protocols   []string
	Indices     []string
}

type IndexResult struct {
	Protocol cadastre.Protocol
	Index    cadastre.Index
	Dir      string
	// Report is empty when no report could be written.
	Report  string
	Status  ledger.Status
	Err     error
	Missing []cadastre.SourceName
	Sources []ledger.SourceResult
}

type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []IndexResult
	// Skipped are the protocols that resolved to no index.
	Skipped   []cadastre.Protocol
	Cancelled bool
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Run converts the summary into its ledger entry.
func (s Summary) Run() ledger.Run {
	run := ledger.Run{
		ID:         s.RunID,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Cancelled:  s.Cancelled,
	}
	for _, r := range s.Results {
		run.Indices = append(run.Indices, ledger.IndexResult{
			Protocol: r.Protocol.String(),
			Index:    r.Index.String(),
			Dir:      r.Dir,
			Report:   r.Report,
			Status:   r.Status,
			Error:    errText(r.Err),
			Sources:  r.Sources,
		})
	}
	return run
}

// Recorder stores the outcome of a run.
type Recorder interface {
	RecordRun(ctx context.Context, run ledger.Run) error
}

// Notifier tells someone a run finished.
type Notifier interface {
	NotifyRun(ctx context.Context, run ledger.Run) error
}

type Pipeline struct {
	Store      resultstore.Store
	Resolver   Resolver
	Aggregator Aggregator
	// ReportOptions is the template of every report, the worker and the
	// consistency analysis are filled per index.
	ReportOptions report.Options
	// Assemble writes a report, it defaults to report.Assemble.
	Assemble func(record *cadastre.AggregatedRecord, outputPath string, opts report.Options) error
	// Progress is called after every protocol or plain index.
	Progress func(done, total int)
	Recorder Recorder
	Notifier Notifier
}

func newRunID() string {
	id, err := random.String(8)
	if err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return id
}

// Run processes every index of req sequentially. Nothing but a cancelled
// ctx stops it early and even then the index in progress is finished
// first.
func (p Pipeline) Run(ctx context.Context, req Request) Summary {
	summary := Summary{
		RunID:     newRunID(),
		StartedAt: timezone.Now(),
	}

	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", summary.RunID))

	logger := slog.Default().With("run", summary.RunID)
	logger.InfoContext(
		ctx, "starting run",
		"protocols", len(req.Protocols),
		"indices", len(req.Indices),
		"credentials", req.Credentials.Siatu,
	)

	total := len(req.Protocols) + len(req.Indices)
	done := 0
	progress := func() {
		done++
		if p.Progress != nil {
			p.Progress(done, total)
		}
	}

	cancelled := func() bool {
		if ctx.Err() == nil {
			return false
		}
		if !summary.Cancelled {
			logger.WarnContext(context.WithoutCancel(ctx), "run cancelled, stopping before the next index")
		}
		summary.Cancelled = true
		return true
	}

	for _, raw := range req.Protocols {
		if cancelled() {
			break
		}
		protocol := cadastre.NormalizeProtocol(raw)
		if protocol == "" {
			logger.WarnContext(ctx, "ignoring empty protocol", "raw", raw)
			progress()
			continue
		}

		indices := p.Resolver.Resolve(ctx, protocol, req.Credentials, p.Store.Root())
		if len(indices) == 0 {
			logger.WarnContext(ctx, "protocol has no index, skipping", "protocol", protocol)
			summary.Skipped = append(summary.Skipped, protocol)
			progress()
			continue
		}

		for _, index := range indices {
			if cancelled() {
				break
			}
			summary.Results = append(summary.Results, p.processIndex(ctx, req.Credentials, protocol, index))
		}
		progress()
	}

	for _, raw := range req.Indices {
		if cancelled() {
			break
		}
		index := cadastre.NormalizeIndex(raw)
		if index == "" {
			logger.WarnContext(ctx, "ignoring empty index", "raw", raw)
			progress()
			continue
		}
		summary.Results = append(summary.Results, p.processIndex(ctx, req.Credentials, "", index))
		progress()
	}

	summary.FinishedAt = timezone.Now()
	span.SetAttributes(
		attribute.Int("indices", len(summary.Results)),
		attribute.Bool("cancelled", summary.Cancelled),
	)

	p.finish(context.WithoutCancel(ctx), logger, summary)
	return summary
}

func (p Pipeline) finish(ctx context.Context, logger *slog.Logger, summary Summary) {
	run := summary.Run()
	logger.InfoContext(
		ctx, "run finished",
		"indices", len(run.Indices),
		"failed", run.Failed(),
		"skipped", len(summary.Skipped),
		"cancelled", summary.Cancelled,
		"took", summary.FinishedAt.Sub(summary.StartedAt),
	)

	if p.Recorder != nil {
		err := p.Recorder.RecordRun(ctx, run)
		if err != nil {
			logger.ErrorContext(ctx, "failed to record run", "err", err)
		}
	}
	if p.Notifier != nil {
		err := p.Notifier.NotifyRun(ctx, run)
		if err != nil {
			logger.ErrorContext(ctx, "failed to send run notification", "err", err)
		}
	}
}

// Analyze runs the cross-source consistency checks of a record.
func Analyze(record *cadastre.AggregatedRecord) report.Analysis {
	basicPlan := record.Record(cadastre.SOURCE_BASIC_PLAN)
	mapping := record.Record(cadastre.SOURCE_CADASTRAL_MAPPING)

	var analysis report.Analysis

	planAddress := basicPlan.Get(cadastre.FieldPropertyAddress)
	mappingAddress := mapping.Get(cadastre.FieldCtmGeoAddress)
	if planAddress.Informed() && mappingAddress.Informed() {
		comparison := CompareAddresses(planAddress.String(), mappingAddress.String())
		analysis.Addresses = report.AddressCheck{
			Compared:   comparison.Compared,
			Match:      comparison.Match,
			Similarity: comparison.StreetSimilarity,
			BasicPlan:  planAddress.String(),
			Mapping:    mappingAddress.String(),
		}
	}

	areas := CompareAreas(basicPlan, mapping)
	analysis.Areas = report.AreaCheck{
		Compared: areas.Compared,
		Match:    areas.Match,
		Built:    areas.Built,
		Mapped:   areas.Mapped,
	}
	return analysis
}

func sourceResults(record *cadastre.AggregatedRecord) []ledger.SourceResult {
	var out []ledger.SourceResult
	for _, name := range cadastre.Sources {
		r := record.Record(name)
		out = append(out, ledger.SourceResult{
			Source:   string(name),
			Found:    r.Found,
			Attempts: r.Attempts,
			Error:    errText(r.Err),
		})
	}
	return out
}

// processIndex turns every failure into the index result, it never stops
// the run.
func (p Pipeline) processIndex(ctx context.Context, creds cadastre.Credentials, protocol cadastre.Protocol, index cadastre.Index) IndexResult {
	ctx, span := tracer.Start(ctx, "Index")
	defer span.End()
	span.SetAttributes(attribute.String("index", index.String()))

	logger := slog.Default().With("index", index)
	if protocol != "" {
		logger = logger.With("protocol", protocol)
	}

	result := IndexResult{Protocol: protocol, Index: index}
	fail := func(status ledger.Status, err error) IndexResult {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.ErrorContext(ctx, "index failed", "status", status, "err", err)
		result.Status = status
		result.Err = err
		return result
	}

	dir, err := p.Store.Prepare(protocol, index)
	if err != nil {
		return fail(ledger.STATUS_FAILED, err)
	}
	result.Dir = dir

	record := p.Aggregator.Aggregate(ctx, protocol, index, creds, dir)
	result.Missing = record.Missing()
	result.Sources = sourceResults(record)

	attachments, err := p.Store.Collect(dir)
	if err != nil {
		logger.WarnContext(ctx, "failed to collect attachments", "err", err)
	}
	record.Attachments = attachments

	opts := p.ReportOptions
	opts.Worker = creds.Siatu.Username
	opts.Analysis = Analyze(record)

	reportPath := resultstore.ReportPath(dir, index)
	assemble := p.Assemble
	if assemble == nil {
		assemble = report.Assemble
	}
	err = assemble(record, reportPath, opts)
	if err != nil {
		return fail(ledger.STATUS_REPORT_FAILED, err)
	}

	result.Report = reportPath
	result.Status = ledger.STATUS_OK
	logger.InfoContext(
		ctx, "index done",
		"attachments", len(attachments),
		"missing_sources", len(result.Missing),
	)
	return result
}
