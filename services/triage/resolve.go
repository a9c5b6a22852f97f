package triage

import (
	"context"
	"log/slog"
	"triagem/lib/cadastre"
	"triagem/lib/portal"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Resolver discovers the cadastral indices linked to a protocol.
type Resolver struct {
	Open portal.Opener[portal.Lister]
}

// Resolve never fails, a protocol that cannot be resolved simply yields no
// index and the reason is logged.
func (r Resolver) Resolve(ctx context.Context, protocol cadastre.Protocol, creds cadastre.Credentials, workDir string) []cadastre.Index {
	ctx, span := tracer.Start(ctx, "Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("protocol", protocol.String()))

	raw, err := portal.Run(
		ctx, r.Open, creds, workDir, protocol.String(),
		func(ctx context.Context, s portal.Lister) ([]string, error) {
			return s.ListIndices(ctx)
		},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.ErrorContext(
			ctx, "failed to resolve protocol",
			"protocol", protocol,
			"step", portal.FailedStep(err),
			"err", err,
		)
		return nil
	}

	var indices []cadastre.Index
	seen := map[cadastre.Index]struct{}{}
	for _, entry := range raw {
		index := cadastre.NormalizeIndex(entry)
		if index == "" {
			continue
		}
		if _, ok := seen[index]; ok {
			continue
		}
		seen[index] = struct{}{}
		indices = append(indices, index)
	}

	slog.InfoContext(ctx, "resolved protocol", "protocol", protocol, "indices", len(indices))
	return indices
}
