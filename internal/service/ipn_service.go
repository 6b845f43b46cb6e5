package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kursadbilgin/membership-functions/internal/domain"
	"github.com/kursadbilgin/membership-functions/internal/ipn"
	"github.com/kursadbilgin/membership-functions/internal/ledger"
	"github.com/kursadbilgin/membership-functions/internal/observability"
	"github.com/kursadbilgin/membership-functions/internal/provider"
	"go.uber.org/zap"
)

// OutcomeState is the terminal state of one IPN delivery.
type OutcomeState string

const (
	OutcomeSuccess         OutcomeState = "success"
	OutcomeRejectedNoRetry OutcomeState = "rejected_no_retry"
	OutcomeTransientRetry  OutcomeState = "transient_retry"
)

// Stage names the pipeline step that decided an outcome.
type Stage string

const (
	StageParse    Stage = "parse"
	StageVerify   Stage = "verify"
	StageValidate Stage = "validate"
	StageLedger   Stage = "ledger"
	StageSync     Stage = "sync"
)

// Outcome is what the HTTP layer needs to answer PayPal.
type Outcome struct {
	State      OutcomeState
	Stage      Stage
	Reason     string
	TxnID      string
	StatusCode int
	Result     domain.UpsertResult
	Err        error
}

type notificationValidator interface {
	Validate(n domain.ParsedNotification, now time.Time) domain.ValidationOutcome
}

type membershipUpserter interface {
	Upsert(ctx context.Context, n domain.ParsedNotification) (domain.UpsertResult, error)
}

// IPNService runs one delivery through parse, verify, validate and sync,
// stopping at the first stage that fails.
type IPNService struct {
	verifier  provider.IPNVerifier
	validator notificationValidator
	upserter  membershipUpserter
	ledger    ledger.TxnLedger
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewIPNService(
	verifier provider.IPNVerifier,
	validator notificationValidator,
	upserter membershipUpserter,
	txnLedger ledger.TxnLedger,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*IPNService, error) {
	if verifier == nil {
		return nil, fmt.Errorf("ipn verifier is required")
	}
	if validator == nil {
		return nil, fmt.Errorf("notification validator is required")
	}
	if upserter == nil {
		return nil, fmt.Errorf("membership synchronizer is required")
	}
	if txnLedger == nil {
		txnLedger = ledger.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &IPNService{
		verifier:  verifier,
		validator: validator,
		upserter:  upserter,
		ledger:    txnLedger,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}, nil
}

// Handle always produces exactly one Outcome. It never panics on hostile
// input and never calls the mailing list for an unverified message.
func (s *IPNService) Handle(ctx context.Context, body []byte, contentType string) Outcome {
	if ctx == nil {
		ctx = context.Background()
	}

	outcome := s.handle(ctx, body, contentType)
	s.metrics.IncIPNOutcome(string(outcome.State), string(outcome.Stage))
	return outcome
}

func (s *IPNService) handle(ctx context.Context, body []byte, contentType string) Outcome {
	logger := observability.WithContextLogger(s.logger, ctx)

	raw, err := ipn.Parse(body, contentType)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, domain.ErrUnsupportedMediaType) {
			status = http.StatusUnsupportedMediaType
		}
		logger.Info("ipn rejected",
			zap.String("stage", string(StageParse)),
			zap.String("contentType", contentType),
			zap.Error(err),
		)
		return Outcome{State: OutcomeRejectedNoRetry, Stage: StageParse, Reason: reasonOf(err), StatusCode: status, Err: err}
	}

	// Unverified until PayPal says otherwise; only used for log correlation.
	claimedTxnID := raw.Value("txn_id")
	logger = logger.With(zap.String("txnId", claimedTxnID))

	start := s.now()
	verdict, err := s.verifier.Verify(ctx, raw)
	s.metrics.ObserveVerification(string(verdict), s.now().Sub(start))

	switch verdict {
	case domain.VerificationVerified:
	case domain.VerificationInvalid:
		logger.Warn("ipn verification returned INVALID, possible forgery",
			zap.String("stage", string(StageVerify)),
		)
		return Outcome{
			State:      OutcomeRejectedNoRetry,
			Stage:      StageVerify,
			Reason:     "invalid",
			TxnID:      claimedTxnID,
			StatusCode: http.StatusBadRequest,
			Err:        domain.ErrVerificationFailed,
		}
	default:
		logger.Error("ipn verification unavailable",
			zap.String("stage", string(StageVerify)),
			zap.Int("providerStatus", provider.StatusCode(err)),
			zap.Error(err),
		)
		return Outcome{
			State:      OutcomeTransientRetry,
			Stage:      StageVerify,
			Reason:     "provider_unreachable",
			TxnID:      claimedTxnID,
			StatusCode: http.StatusServiceUnavailable,
			Err:        fmt.Errorf("%w: %w", domain.ErrProviderUnreachable, err),
		}
	}

	n, err := ipn.Decode(raw)
	if err != nil {
		logger.Info("ipn rejected",
			zap.String("stage", string(StageParse)),
			zap.Error(err),
		)
		return Outcome{State: OutcomeRejectedNoRetry, Stage: StageParse, Reason: reasonOf(err), TxnID: claimedTxnID, StatusCode: http.StatusBadRequest, Err: err}
	}
	logger = logger.With(zap.Bool("test", n.Test), zap.String("txnType", n.TxnType))

	validation := s.validator.Validate(n, s.now())
	if !validation.Accepted {
		logger.Info("ipn rejected",
			zap.String("stage", string(StageValidate)),
			zap.String("reason", string(validation.Reason)),
			zap.String("detail", validation.Detail),
		)
		return Outcome{
			State:      OutcomeRejectedNoRetry,
			Stage:      StageValidate,
			Reason:     string(validation.Reason),
			TxnID:      n.TxnID,
			StatusCode: http.StatusOK,
			Err:        validation.Err(),
		}
	}

	seen, err := s.ledger.Seen(ctx, n.TxnID)
	if err != nil {
		logger.Warn("transaction ledger lookup failed", zap.Error(err))
	}
	if seen {
		logger.Info("ipn already processed", zap.String("stage", string(StageLedger)))
		return Outcome{State: OutcomeSuccess, Stage: StageLedger, Reason: "already_processed", TxnID: n.TxnID, StatusCode: http.StatusOK, Result: domain.UpsertAlreadyCurrent}
	}

	result, err := s.upserter.Upsert(ctx, n)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedPayload) {
			logger.Info("ipn rejected",
				zap.String("stage", string(StageSync)),
				zap.Error(err),
			)
			return Outcome{State: OutcomeRejectedNoRetry, Stage: StageSync, Reason: reasonOf(err), TxnID: n.TxnID, StatusCode: http.StatusBadRequest, Result: result, Err: err}
		}

		logger.Error("membership sync failed",
			zap.String("stage", string(StageSync)),
			zap.Int("providerStatus", provider.StatusCode(err)),
			zap.Bool("transient", provider.IsTransient(err)),
			zap.Error(err),
		)
		return Outcome{State: OutcomeTransientRetry, Stage: StageSync, Reason: "provider_error", TxnID: n.TxnID, StatusCode: http.StatusBadGateway, Result: domain.UpsertProviderError, Err: err}
	}

	if err := s.ledger.Mark(ctx, n.TxnID); err != nil {
		logger.Warn("failed to record transaction in ledger", zap.Error(err))
	}

	logger.Info("ipn processed",
		zap.String("result", string(result)),
		zap.String("gross", n.Gross.String()),
	)
	return Outcome{State: OutcomeSuccess, Stage: StageSync, TxnID: n.TxnID, StatusCode: http.StatusOK, Result: result}
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnsupportedMediaType):
		return "unsupported_media_type"
	case errors.Is(err, domain.ErrMalformedPayload):
		return "malformed_payload"
	default:
		return "unknown"
	}
}
