package results

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jarcoal/httpmock"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dermassist/internal/diagnosis"
	"github.com/wolfman30/dermassist/internal/observability/metrics"
	"github.com/wolfman30/dermassist/pkg/logging"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.FixedZone("WAT", 3600))

func eczemaRecord() PredictionRecord {
	result := &diagnosis.ClassificationResult{Disease: "Eczema", Confidence: 87.456}
	return NewPredictionRecord(result, diagnosis.LanguageYoruba, fixedNow)
}

func TestNewPredictionRecord(t *testing.T) {
	rec := eczemaRecord()
	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, "Eczema", rec.Disease)
	assert.Equal(t, diagnosis.LanguageYoruba, rec.Language)
	assert.Equal(t, time.UTC, rec.CreatedAt.Location())
	assert.True(t, rec.CreatedAt.Equal(fixedNow))
	assert.InDelta(t, 87.46, rec.RoundedConfidence(), 1e-9)
}

func TestPostgresStoreRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := eczemaRecord()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "predictions" (id, disease, confidence, language, created_at)`)).
		WithArgs(pgxmock.AnyArg(), "Eczema", 87.46, "Yoruba", rec.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewPostgresStore(mock, "")
	require.NoError(t, store.Record(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"constraint violation", &pgconn.PgError{Code: "23505", Message: "duplicate key"}, ErrWriteRejected},
		{"connection refused", errors.New("dial tcp: connection refused"), ErrStoreUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			mock.ExpectExec(`INSERT INTO "prediction_log"`).WillReturnError(tt.err)
			store := NewPostgresStore(mock, "prediction_log")
			err = store.Record(context.Background(), eczemaRecord())

			var perr *PersistenceError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, "postgres", perr.Backend)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPostgresStoreRejectsZeroRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO`).WillReturnResult(pgxmock.NewResult("INSERT", 0))
	err = NewPostgresStore(mock, "predictions").Record(context.Background(), eczemaRecord())
	assert.ErrorIs(t, err, ErrWriteRejected)
}

func newMockedRESTStore(t *testing.T) *RESTStore {
	t.Helper()
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)

	store, err := NewRESTStore(RESTConfig{
		BaseURL:    "https://project.supabase.co/",
		APIKey:     "anon-key",
		HTTPClient: client,
	})
	require.NoError(t, err)
	return store
}

func TestRESTStoreRecord(t *testing.T) {
	store := newMockedRESTStore(t)
	rec := eczemaRecord()

	httpmock.RegisterResponder(http.MethodPost, "https://project.supabase.co/rest/v1/predictions",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "anon-key", req.Header.Get("apikey"))
			assert.Equal(t, "Bearer anon-key", req.Header.Get("Authorization"))
			assert.Equal(t, "return=minimal", req.Header.Get("Prefer"))

			var rows []map[string]any
			require.NoError(t, json.NewDecoder(req.Body).Decode(&rows))
			require.Len(t, rows, 1)
			assert.Equal(t, "Eczema", rows[0]["disease"])
			assert.InDelta(t, 87.46, rows[0]["confidence"], 1e-9)
			assert.Equal(t, "Yoruba", rows[0]["language"])
			assert.Equal(t, "2026-03-14T08:26:53Z", rows[0]["created_at"])
			assert.Equal(t, rec.ID.String(), rows[0]["id"])
			return httpmock.NewStringResponse(http.StatusCreated, ""), nil
		})

	require.NoError(t, store.Record(context.Background(), rec))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestRESTStoreStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"bad request", http.StatusBadRequest, ErrWriteRejected},
		{"unauthorized", http.StatusUnauthorized, ErrWriteRejected},
		{"rate limited", http.StatusTooManyRequests, ErrStoreUnavailable},
		{"server error", http.StatusServiceUnavailable, ErrStoreUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockedRESTStore(t)
			httpmock.RegisterResponder(http.MethodPost, "https://project.supabase.co/rest/v1/predictions",
				httpmock.NewStringResponder(tt.status, `{"message":"nope"}`))

			err := store.Record(context.Background(), eczemaRecord())
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestRESTStoreTransportError(t *testing.T) {
	store := newMockedRESTStore(t)
	httpmock.RegisterResponder(http.MethodPost, "https://project.supabase.co/rest/v1/predictions",
		httpmock.NewErrorResponder(errors.New("no route to host")))

	err := store.Record(context.Background(), eczemaRecord())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestNewRESTStoreValidation(t *testing.T) {
	_, err := NewRESTStore(RESTConfig{APIKey: "k"})
	assert.Error(t, err)
	_, err = NewRESTStore(RESTConfig{BaseURL: "https://x.supabase.co"})
	assert.Error(t, err)
	store, err := NewRESTStore(RESTConfig{BaseURL: "https://x.supabase.co", APIKey: "k", Table: "skin_predictions"})
	require.NoError(t, err)
	assert.Equal(t, "https://x.supabase.co/rest/v1/skin_predictions", store.endpoint)
}

type fakeS3 struct {
	mu   sync.Mutex
	puts []*s3.PutObjectInput
	body [][]byte
	err  error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	data, _ := io.ReadAll(params.Body)
	f.puts = append(f.puts, params)
	f.body = append(f.body, data)
	return &s3.PutObjectOutput{}, nil
}

func TestArchiveStoreRecord(t *testing.T) {
	client := &fakeS3{}
	store := NewArchiveStore(client, "derm-archive")
	rec := eczemaRecord()

	require.NoError(t, store.Record(context.Background(), rec))
	require.Len(t, client.puts, 1)
	assert.Equal(t, "derm-archive", *client.puts[0].Bucket)
	assert.Equal(t, "predictions/v1/2026/03/14/"+rec.ID.String()+".json", *client.puts[0].Key)
	assert.Equal(t, "application/json", *client.puts[0].ContentType)

	var stored map[string]any
	require.NoError(t, json.Unmarshal(client.body[0], &stored))
	assert.InDelta(t, 87.46, stored["confidence"], 1e-9)
	assert.Equal(t, "Yoruba", stored["language"])
}

func TestArchiveStoreDisabledAndFailing(t *testing.T) {
	assert.NoError(t, NewArchiveStore(&fakeS3{}, "").Record(context.Background(), eczemaRecord()))
	var nilStore *ArchiveStore
	assert.False(t, nilStore.Enabled())

	store := NewArchiveStore(&fakeS3{err: errors.New("throttled")}, "bucket")
	err := store.Record(context.Background(), eczemaRecord())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

type stubStore struct {
	mu      sync.Mutex
	records []PredictionRecord
	err     error
	block   chan struct{}
}

func (s *stubStore) Record(ctx context.Context, rec PredictionRecord) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return unavailable("stub", ctx.Err())
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func TestMultiStoreWritesAllAndJoinsErrors(t *testing.T) {
	ok := &stubStore{}
	failing := &stubStore{err: rejected("stub", errors.New("bad row"))}
	multi := NewMultiStore(ok, nil, failing)
	assert.Equal(t, 2, multi.Len())

	err := multi.Record(context.Background(), eczemaRecord())
	assert.ErrorIs(t, err, ErrWriteRejected)
	assert.Len(t, ok.records, 1)
	assert.Len(t, failing.records, 1)

	assert.NoError(t, NewMultiStore().Record(context.Background(), eczemaRecord()))
}

func TestRecorderSwallowsFailures(t *testing.T) {
	var logs bytes.Buffer
	logger := logging.NewWithWriter("info", "json", &logs)
	m := metrics.NewWorkflowMetrics(prometheus.NewRegistry())

	failing := &stubStore{err: unavailable("stub", errors.New("down"))}
	rec := NewRecorder(failing, time.Second, logger, m)
	assert.False(t, rec.Record(context.Background(), eczemaRecord()))
	assert.Contains(t, logs.String(), "failed to persist prediction")

	ok := &stubStore{}
	assert.True(t, NewRecorder(ok, time.Second, logger, m).Record(context.Background(), eczemaRecord()))
	assert.Len(t, ok.records, 1)

	var nilRecorder *Recorder
	assert.False(t, nilRecorder.Record(context.Background(), eczemaRecord()))
	assert.False(t, NewRecorder(nil, 0, nil, nil).Record(context.Background(), eczemaRecord()))
}

func TestRecorderWithoutBackendsDoesNotReportSuccess(t *testing.T) {
	var logs bytes.Buffer
	reg := prometheus.NewRegistry()
	m := metrics.NewWorkflowMetrics(reg)

	rec := NewRecorder(NewMultiStore(), time.Second, logging.NewWithWriter("debug", "json", &logs), m)
	assert.False(t, rec.Record(context.Background(), eczemaRecord()))
	assert.NotContains(t, logs.String(), "prediction persisted")

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		assert.NotEqual(t, "dermassist_workflow_stage_total", f.GetName(), "no record stage should be counted")
	}

	var typedNil *MultiStore
	assert.False(t, NewRecorder(typedNil, time.Second, logging.Discard(), nil).Record(context.Background(), eczemaRecord()))
}

func TestRecorderIgnoresCallerCancellationButHonorsTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok := &stubStore{}
	assert.True(t, NewRecorder(ok, time.Second, logging.Discard(), nil).Record(ctx, eczemaRecord()))

	slow := &stubStore{block: make(chan struct{})}
	assert.False(t, NewRecorder(slow, 20*time.Millisecond, logging.Discard(), nil).Record(context.Background(), eczemaRecord()))
}
