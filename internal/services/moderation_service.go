// Package services – ModerationService
//
// This file implements ModerationService, which owns the moderation pipeline:
// validate the submission, persist a pending record, run the configured
// classifier and write exactly one terminal verdict. A classifier failure is
// recorded as an "error" verdict and is not surfaced to the caller.
//
// Observability: public methods are OpenTelemetry-instrumented and every
// finalized submission is counted in Prometheus.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/brandsafe-backend/internal/classifier"
	"github.com/tbourn/brandsafe-backend/internal/domain"
	"github.com/tbourn/brandsafe-backend/internal/repo"
)

// FlagClassificationFailed is the only flag stored on an "error" verdict.
const FlagClassificationFailed = "Classification failed"

// defaultFinalizeTimeout bounds the terminal write once the request context
// is detached.
const defaultFinalizeTimeout = 5 * time.Second

// DefaultIdempotencyTTL is how long an Idempotency-Key keeps replaying.
const DefaultIdempotencyTTL = 24 * time.Hour

// reservationTTL frees keys whose holder died before binding a record.
const reservationTTL = 2 * time.Minute

// SubmitRequest is one moderation submission.
type SubmitRequest struct {
	UserID    string
	Kind      domain.InputKind
	Value     string
	File      string // upload reference; image only
	Notes     string
	ClientIP  string
	UserAgent string
}

// ModerationService runs submissions through a Classifier and persists the
// outcome.
type ModerationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Classifier decides verdict, risk, confidence and flags.
	Classifier classifier.Classifier
	// ClassifierName labels the latency histogram (e.g. "keyword").
	ClassifierName string
	// FinalizeTimeout bounds the terminal write.
	FinalizeTimeout time.Duration
	// IdempotencyTTL bounds how long a remembered submission replays.
	IdempotencyTTL time.Duration
}

// NewModerationService constructs a ModerationService.
func NewModerationService(db *gorm.DB, c classifier.Classifier, name string) *ModerationService {
	if name == "" {
		name = "custom"
	}
	return &ModerationService{
		DB:              db,
		Classifier:      c,
		ClassifierName:  name,
		FinalizeTimeout: defaultFinalizeTimeout,
		IdempotencyTTL:  DefaultIdempotencyTTL,
	}
}

// ValidateSubmission checks the shape of a submission before anything is
// stored. hasFile reports whether an upload accompanies the request.
func ValidateSubmission(kind domain.InputKind, value string, hasFile bool) error {
	if !kind.Valid() {
		return invalid("input_type must be one of text, image, url")
	}
	switch kind {
	case domain.InputImage:
		if !hasFile {
			return invalid("image file is required for image moderation")
		}
	default:
		if strings.TrimSpace(value) == "" {
			return invalid("%s content is required for %s moderation", kind, kind)
		}
		if hasFile {
			return invalid("input_file is only accepted for image moderation")
		}
	}
	return nil
}

// Submit validates req, creates a pending record, classifies it and stores
// the verdict. It returns the finalized record. Only validation and storage
// failures are returned as errors.
func (s *ModerationService) Submit(ctx context.Context, req SubmitRequest) (*domain.ModerationRecord, error) {
	tr := otel.Tracer("services/ModerationService")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(
			attribute.String("user.id", req.UserID),
			attribute.String("input.type", string(req.Kind)),
		),
	)
	defer span.End()

	if err := ValidateSubmission(req.Kind, req.Value, req.File != ""); err != nil {
		return nil, err
	}

	rec := &domain.ModerationRecord{
		UserID:     req.UserID,
		InputType:  req.Kind,
		InputValue: optional(req.Value),
		InputFile:  optional(req.File),
		Notes:      optional(req.Notes),
		IPAddress:  optional(req.ClientIP),
		UserAgent:  optional(req.UserAgent),
	}
	if err := repo.CreateModeration(ctx, s.DB, rec); err != nil {
		span.RecordError(err)
		return nil, err
	}

	start := time.Now()
	dec, cerr := s.classify(ctx, classifier.Input{Kind: req.Kind, Value: req.Value})
	elapsed := time.Since(start)
	classificationLat.WithLabelValues(s.ClassifierName).Observe(elapsed.Seconds())

	fin := repo.Finalization{ProcessingTimeMs: elapsed.Milliseconds()}
	if cerr != nil {
		log.Ctx(ctx).Warn().Err(cerr).Str("record_id", rec.ID).Msg("classification failed")
		span.SetStatus(codes.Error, "classification failed")
		fin.Result = domain.VerdictError
		fin.Flags = []string{FlagClassificationFailed}
	} else {
		risk, conf := dec.Risk, dec.Confidence
		fin.Result = dec.Result
		fin.RiskLevel = &risk
		fin.ConfidenceScore = &conf
		fin.Flags = dec.Flags
	}

	// The verdict must land even if the client went away.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.finalizeTimeout())
	defer cancel()
	if err := repo.FinalizeModeration(wctx, s.DB, rec.ID, fin); err != nil {
		span.RecordError(err)
		return nil, err
	}
	moderationChecks.WithLabelValues(string(req.Kind), string(fin.Result)).Inc()

	out, err := repo.GetModeration(wctx, s.DB, rec.ID, "")
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("record.id", out.ID),
		attribute.String("moderation.result", string(out.Result)),
	)
	return out, nil
}

// classify runs the classifier, turning a panic or an invalid decision into
// an error.
func (s *ModerationService) classify(ctx context.Context, in classifier.Input) (dec classifier.Decision, err error) {
	if s.Classifier == nil {
		return dec, errors.New("no classifier configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classifier panic: %v", r)
		}
	}()
	dec, err = s.Classifier.Classify(ctx, in)
	if err != nil {
		return dec, err
	}
	if dec.Result != domain.VerdictSafe && dec.Result != domain.VerdictUnsafe {
		return dec, fmt.Errorf("classifier returned verdict %q", dec.Result)
	}
	if !dec.Risk.Valid() {
		return dec, fmt.Errorf("classifier returned risk %q", dec.Risk)
	}
	if dec.Confidence < 0 || dec.Confidence > 1 {
		return dec, fmt.Errorf("classifier returned confidence %v", dec.Confidence)
	}
	return dec, nil
}

func (s *ModerationService) finalizeTimeout() time.Duration {
	if s.FinalizeTimeout > 0 {
		return s.FinalizeTimeout
	}
	return defaultFinalizeTimeout
}

// History returns a newest-first page of userID's records and the total count.
func (s *ModerationService) History(ctx context.Context, userID string, page, pageSize int) ([]domain.ModerationRecord, int64, error) {
	tr := otel.Tracer("services/ModerationService")
	ctx, span := tr.Start(ctx, "History",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	total, err := repo.CountModerations(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.ModerationRecord{}, 0, nil
	}
	items, err := repo.ListModerationsPage(ctx, s.DB, userID, (page-1)*pageSize, pageSize)
	return items, total, err
}

// Get returns one of userID's records.
func (s *ModerationService) Get(ctx context.Context, userID, id string) (*domain.ModerationRecord, error) {
	tr := otel.Tracer("services/ModerationService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("record.id", id),
		),
	)
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return nil, ErrRecordNotFound
	}
	rec, err := repo.GetModeration(ctx, s.DB, id, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Replay returns the record a previous request with the same (userID, scope,
// key) produced, if that key is still live and bound.
func (s *ModerationService) Replay(ctx context.Context, userID, scope, key string) (*domain.ModerationRecord, bool, error) {
	idem, err := repo.GetIdempotency(ctx, s.DB, userID, scope, key, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if idem.RecordID == "" {
		return nil, false, nil
	}
	rec, err := repo.GetModeration(ctx, s.DB, idem.RecordID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Reserve claims (userID, scope, key) for a new submission. It returns
// (nil, nil) when the caller now holds the key, the bound record when an
// earlier request already finished, and ErrIdempotencyInFlight while another
// request holds it. A caller holding the key must Remember or Release it.
func (s *ModerationService) Reserve(ctx context.Context, userID, scope, key string) (*domain.ModerationRecord, error) {
	for attempt := 0; ; attempt++ {
		_, err := repo.CreateIdempotency(ctx, s.DB, userID, scope, key, "", 0, reservationTTL)
		if err == nil {
			return nil, nil
		}
		if !errors.Is(err, repo.ErrDuplicate) {
			return nil, err
		}

		idem, err := repo.GetIdempotency(ctx, s.DB, userID, scope, key, time.Now().UTC())
		switch {
		case errors.Is(err, repo.ErrNotFound):
			// expired but not yet purged, or released in between
			if attempt > 0 {
				return nil, ErrIdempotencyInFlight
			}
			if _, err := repo.DeleteExpiredIdempotencyKey(ctx, s.DB, userID, scope, key, time.Now().UTC()); err != nil {
				return nil, err
			}
			continue
		case err != nil:
			return nil, err
		case idem.RecordID == "":
			return nil, ErrIdempotencyInFlight
		}

		return repo.GetModeration(ctx, s.DB, idem.RecordID, userID)
	}
}

// Remember binds (userID, scope, key) to recordID, completing a Reserve. A
// key that is already bound keeps its first record.
func (s *ModerationService) Remember(ctx context.Context, userID, scope, key, recordID string) error {
	ttl := s.IdempotencyTTL
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	err := repo.BindIdempotency(ctx, s.DB, userID, scope, key, recordID, http.StatusOK, ttl)
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	_, err = repo.CreateIdempotency(ctx, s.DB, userID, scope, key, recordID, http.StatusOK, ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// Release gives up a reservation whose request produced no record, so a
// retry with the same key runs again.
func (s *ModerationService) Release(ctx context.Context, userID, scope, key string) error {
	return repo.ReleaseIdempotency(ctx, s.DB, userID, scope, key)
}

// HistoryVersion summarizes userID's records for conditional GETs: the record
// count and the latest update time (nil when there are none).
func (s *ModerationService) HistoryVersion(ctx context.Context, userID string) (int64, *time.Time, error) {
	return repo.HistoryStats(ctx, s.DB, userID)
}

// PurgeIdempotency removes expired idempotency keys and reports how many
// were deleted.
func (s *ModerationService) PurgeIdempotency(ctx context.Context) (int64, error) {
	return repo.PurgeExpiredIdempotency(ctx, s.DB, time.Now().UTC())
}

// optional returns nil for blank strings.
func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
