package triage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"triagem/lib/cadastre"
	"triagem/lib/portal"
	"triagem/lib/portal/portaltest"
	"triagem/lib/retry"

	"github.com/stretchr/testify/require"
)

type logRecord map[string]any

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&c.buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (c *logCapture) Records(t testing.TB, msg string) []logRecord {
	var out []logRecord
	scanner := bufio.NewScanner(bytes.NewReader(c.buf.Bytes()))
	for scanner.Scan() {
		var record logRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		if record["msg"] == msg {
			out = append(out, record)
		}
	}
	return out
}

var errPortalDown = errors.New("portal down")

func failUntil(session int, step portal.Step) func(int, portal.Step, string) error {
	return func(n int, s portal.Step, _ string) error {
		if n < session && s == step {
			return errPortalDown
		}
		return nil
	}
}

func testCreds() cadastre.Credentials {
	return cadastre.Credentials{
		Siatu:  cadastre.Credential{Username: "joao.silva", Password: "secret"},
		Sigede: cadastre.Credential{Username: "joao.silva", Password: "secret"},
	}
}

type fakes struct {
	basicPlan *portaltest.Fake
	project   *portaltest.Fake
	mapping   *portaltest.Fake
	imagery   *portaltest.Fake
}

func newFakes() fakes {
	return fakes{
		basicPlan: &portaltest.Fake{
			Fields: map[string]cadastre.Value{
				cadastre.FieldBuiltArea:       cadastre.Area(120.5),
				cadastre.FieldFiscalYear:      cadastre.Text("2025"),
				cadastre.FieldPropertyAddress: cadastre.Text("RUA DAS FLORES, 100 - CENTRO"),
			},
			Files: []string{"Planta_Basica.pdf"},
		},
		project: &portaltest.Fake{
			Fields: map[string]cadastre.Value{
				cadastre.FieldProjectType: cadastre.Text("Edificação"),
				cadastre.FieldRequest:     cadastre.Text("REQ-1"),
			},
			Files: []string{"Certidão Baixa (1).pdf"},
		},
		mapping: &portaltest.Fake{
			Fields: map[string]cadastre.Value{
				cadastre.FieldCtmGeoArea:    cadastre.Area(120.5),
				cadastre.FieldCtmGeoAddress: cadastre.Text("RUA DAS FLORES, 100 - Belo Horizonte - MG, 30123-000"),
			},
			Files: []string{"sisctm_aereo.png"},
		},
		imagery: &portaltest.Fake{
			Fields: map[string]cadastre.Value{
				cadastre.FieldSearchedAddress: cadastre.Text("RUA DAS FLORES, 100 - Belo Horizonte - MG, 30123-000"),
			},
			Files: []string{"google_maps_aereo.png"},
		},
	}
}

func (f fakes) sources(basicPlanRetry retry.Policy) []SourceConfig {
	return []SourceConfig{
		{Name: cadastre.SOURCE_BASIC_PLAN, Open: portal.Extractors(f.basicPlan.Open), Retry: basicPlanRetry},
		{Name: cadastre.SOURCE_PROJECT, Open: portal.Extractors(f.project.Open), Retry: DefaultRetry(cadastre.SOURCE_PROJECT)},
		{Name: cadastre.SOURCE_CADASTRAL_MAPPING, Open: portal.Extractors(f.mapping.Open), Retry: DefaultRetry(cadastre.SOURCE_CADASTRAL_MAPPING)},
		{Name: cadastre.SOURCE_IMAGERY, Open: portal.Extractors(f.imagery.Open), Retry: DefaultRetry(cadastre.SOURCE_IMAGERY)},
	}
}

func TestDefaultRetry(t *testing.T) {
	require.Equal(t, 4, DefaultRetry(cadastre.SOURCE_BASIC_PLAN).MaxAttempts)
	require.Equal(t, 1, DefaultRetry(cadastre.SOURCE_PROJECT).MaxAttempts)
}

func TestAggregate(t *testing.T) {
	f := newFakes()
	logs := &logCapture{}
	aggregator := Aggregator{Sources: f.sources(retry.Fixed(4, 0)), Logger: logs.Logger()}

	record := aggregator.Aggregate(context.Background(), "7463527921", "0123456789", testCreds(), t.TempDir())

	require.Empty(t, record.Missing())
	require.Equal(t, "RUA DAS FLORES, 100 - Belo Horizonte - MG, 30123-000", record.Address)
	require.Equal(t, []string{record.Address}, f.imagery.Targets())
	require.Equal(t, []string{"0123456789"}, f.basicPlan.Targets())

	plan := record.Record(cadastre.SOURCE_BASIC_PLAN)
	require.Equal(t, 1, plan.Attempts)
	require.Equal(t, cadastre.Area(120.5), plan.Get(cadastre.FieldBuiltArea))
	require.False(t, plan.Get(cadastre.FieldUsageType).Informed())

	for _, fake := range []*portaltest.Fake{f.basicPlan, f.project, f.mapping, f.imagery} {
		require.Equal(t, fake.Opened(), fake.Closed())
	}
	require.Empty(t, logs.Records(t, "source attempt failed, retrying"))
}

func TestAggregateRetriesBasicPlan(t *testing.T) {
	f := newFakes()
	f.basicPlan.Fail = failUntil(4, portal.STEP_NAVIGATE)
	logs := &logCapture{}
	aggregator := Aggregator{Sources: f.sources(retry.Fixed(4, 0)), Logger: logs.Logger()}

	record := aggregator.Aggregate(context.Background(), "", "0123456789", testCreds(), t.TempDir())

	plan := record.Record(cadastre.SOURCE_BASIC_PLAN)
	require.True(t, plan.Found)
	require.Equal(t, 4, plan.Attempts)
	require.Equal(t, 4, f.basicPlan.Opened())
	require.Equal(t, 4, f.basicPlan.Closed())

	warnings := logs.Records(t, "source attempt failed, retrying")
	require.Len(t, warnings, 3)
	for i, w := range warnings {
		require.Equal(t, "WARN", w["level"])
		require.Equal(t, string(cadastre.SOURCE_BASIC_PLAN), w["source"])
		require.Equal(t, "0123456789", w["index"])
		require.Equal(t, float64(i+1), w["attempt"])
	}
	require.Empty(t, logs.Records(t, "source produced no data"))
}

func TestAggregateGivesUp(t *testing.T) {
	f := newFakes()
	f.basicPlan.Fail = failUntil(100, portal.STEP_LOGIN)
	logs := &logCapture{}
	aggregator := Aggregator{Sources: f.sources(retry.Fixed(4, 0)), Logger: logs.Logger()}

	record := aggregator.Aggregate(context.Background(), "", "0123456789", testCreds(), t.TempDir())

	plan := record.Record(cadastre.SOURCE_BASIC_PLAN)
	require.False(t, plan.Found)
	require.Equal(t, 4, plan.Attempts)
	require.ErrorIs(t, plan.Err, errPortalDown)
	require.Equal(t, portal.STEP_LOGIN, portal.FailedStep(plan.Err))
	for _, fv := range plan.Fields() {
		require.False(t, fv.Value.Informed(), fv.Field.Key)
	}

	require.Len(t, logs.Records(t, "source attempt failed, retrying"), 3)
	failures := logs.Records(t, "source produced no data")
	require.Len(t, failures, 1)
	require.Equal(t, "ERROR", failures[0]["level"])

	// the other sources are unaffected
	require.True(t, record.Record(cadastre.SOURCE_PROJECT).Found)
	require.Equal(t, []cadastre.SourceName{cadastre.SOURCE_BASIC_PLAN}, record.Missing())
}

func TestAggregateNotFoundIsNotRetried(t *testing.T) {
	f := newFakes()
	f.basicPlan.Fail = func(n int, step portal.Step, _ string) error {
		if step == portal.STEP_NAVIGATE {
			return portal.ErrNotFound
		}
		return nil
	}
	logs := &logCapture{}
	aggregator := Aggregator{Sources: f.sources(retry.Fixed(4, 0)), Logger: logs.Logger()}

	record := aggregator.Aggregate(context.Background(), "", "0123456789", testCreds(), t.TempDir())

	require.False(t, record.Record(cadastre.SOURCE_BASIC_PLAN).Found)
	require.Equal(t, 1, f.basicPlan.Opened())
	require.Empty(t, logs.Records(t, "source attempt failed, retrying"))
}

func TestAggregateSkipsImageryWithoutAddress(t *testing.T) {
	f := newFakes()
	delete(f.basicPlan.Fields, cadastre.FieldPropertyAddress)
	f.mapping.Fail = failUntil(100, portal.STEP_ACCESS)
	logs := &logCapture{}
	aggregator := Aggregator{Sources: f.sources(retry.Fixed(4, 0)), Logger: logs.Logger()}

	record := aggregator.Aggregate(context.Background(), "", "0123456789", testCreds(), t.TempDir())

	require.Equal(t, AddressNotFound, record.Address)
	require.Equal(t, 0, f.imagery.Opened())
	require.False(t, record.Record(cadastre.SOURCE_IMAGERY).Found)
	require.Len(t, logs.Records(t, "no address found, skipping imagery"), 1)
}

func TestAggregateIgnoresCancellation(t *testing.T) {
	f := newFakes()
	aggregator := Aggregator{Sources: f.sources(retry.Fixed(4, 0)), Logger: (&logCapture{}).Logger()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	record := aggregator.Aggregate(ctx, "", "0123456789", testCreds(), t.TempDir())
	require.Empty(t, record.Missing())
}
