package triage

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"triagem/lib/cadastre"
	"triagem/lib/portal"
	"triagem/lib/retry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/triage")

// SourceConfig binds a source to the driver that reads it.
type SourceConfig struct {
	Name  cadastre.SourceName
	Open  portal.Opener[portal.Extractor]
	Retry retry.Policy
}

// DefaultRetry is the policy of a source when none is configured. The basic
// plan generation is the only flaky step worth retrying.
func DefaultRetry(source cadastre.SourceName) retry.Policy {
	if source == cadastre.SOURCE_BASIC_PLAN {
		return retry.Fixed(4, 5*time.Second)
	}
	return retry.Fixed(1, 0)
}

// Aggregator runs every configured source for an index, one after the
// other, and merges what they produced into a single record.
type Aggregator struct {
	Sources []SourceConfig
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (a Aggregator) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a Aggregator) source(name cadastre.SourceName) (SourceConfig, bool) {
	for _, s := range a.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// Aggregate never fails, a source that cannot be read leaves its slot empty
// and the report says so. Cancelling ctx does not interrupt a source that
// already started, the caller checks for cancellation between indices.
func (a Aggregator) Aggregate(
	ctx context.Context,
	protocol cadastre.Protocol,
	index cadastre.Index,
	creds cadastre.Credentials,
	workDir string,
) *cadastre.AggregatedRecord {
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "Aggregate")
	defer span.End()
	span.SetAttributes(
		attribute.String("protocol", protocol.String()),
		attribute.String("index", index.String()),
	)

	logger := a.logger().With("index", index)
	if protocol != "" {
		logger = logger.With("protocol", protocol)
	}

	record := cadastre.NewAggregatedRecord(index, protocol)
	for _, name := range cadastre.Sources {
		target := index.String()
		if name == cadastre.SOURCE_IMAGERY {
			record.Address = ResolveAddress(
				record.Record(cadastre.SOURCE_CADASTRAL_MAPPING),
				record.Record(cadastre.SOURCE_BASIC_PLAN),
			)
			target = record.Address
		}

		source, ok := a.source(name)
		if !ok {
			logger.WarnContext(ctx, "no driver configured for source", "source", name)
			continue
		}
		if name == cadastre.SOURCE_IMAGERY && record.Address == AddressNotFound {
			logger.WarnContext(ctx, "no address found, skipping imagery", "source", name)
			continue
		}

		a.runSource(ctx, logger.With("source", name), source, record.Record(name), creds, workDir, target)
	}

	missing := record.Missing()
	if len(missing) > 0 {
		span.SetAttributes(attribute.Int("missing_sources", len(missing)))
	}
	return record
}

func (a Aggregator) runSource(
	ctx context.Context,
	logger *slog.Logger,
	source SourceConfig,
	slot *cadastre.SourceRecord,
	creds cadastre.Credentials,
	workDir, target string,
) {
	ctx, span := tracer.Start(ctx, "Source")
	defer span.End()
	span.SetAttributes(attribute.String("source", string(source.Name)))

	err := retry.Do(
		ctx, source.Retry,
		func(attempt int) error {
			slot.Attempts = attempt
			extraction, err := portal.Run(
				ctx, source.Open, creds, workDir, target,
				func(ctx context.Context, s portal.Extractor) (portal.Extraction, error) {
					return s.Extract(ctx)
				},
			)
			if errors.Is(err, portal.ErrNotFound) {
				return retry.Permanent(err)
			}
			if err != nil {
				return err
			}

			for key, value := range extraction.Fields {
				if !slot.Set(key, value) {
					logger.DebugContext(ctx, "ignoring field outside of schema", "field", key)
				}
			}
			return nil
		},
		func(attempt int, err error) {
			logger.WarnContext(
				ctx, "source attempt failed, retrying",
				"attempt", attempt,
				"step", portal.FailedStep(err),
				"err", err,
			)
		},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slot.Found = false
		slot.Err = err
		logger.ErrorContext(
			ctx, "source produced no data",
			"attempts", slot.Attempts,
			"step", portal.FailedStep(err),
			"err", err,
		)
		return
	}

	slot.Found = true
	span.SetAttributes(attribute.Int("attempts", slot.Attempts))
	logger.InfoContext(ctx, "source done", "attempts", slot.Attempts)
}
