package service

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/trustgate/trustgate/internal/config"
	"github.com/trustgate/trustgate/internal/crypto"
	"github.com/trustgate/trustgate/internal/logger"
	"github.com/trustgate/trustgate/internal/metrics"
	"github.com/trustgate/trustgate/internal/model"
	"github.com/trustgate/trustgate/internal/repository"
)

// Login risk signal weights. Signals are independent and additive;
// each can only raise the score.
const (
	attemptThreshold  = 5
	attemptWeight     = 5
	attemptMaxPenalty = 40

	flaggedIPPenalty   = 40
	unknownUAPenalty   = 15
	newLocationPenalty = 15
	offHoursPenalty    = 10

	maxRiskScore   = 100
	blockThreshold = 80
)

// Behavior anomaly signal weights
const (
	actionFreqThreshold = 10
	actionFreqWeight    = 0.4

	resourceThreshold = 15
	resourceWeight    = 0.3

	rapidRepeatInterval = 2 * time.Second
	rapidRepeatWeight   = 0.3

	anomalyThreshold = 0.5
)

// ThreatService scores login attempts and authenticated behavior.
// Scoring is a pure function over counters read from the store at call
// time; the service itself holds no mutable state, so instances can
// scale out without fragmenting the risk picture.
type ThreatService struct {
	threatRepo *repository.ThreatRepository
	crypto     *crypto.Service
	events     EventSink
	cfg        *config.Config
	log        *logger.Logger
}

// NewThreatService creates a new ThreatService
func NewThreatService(
	threatRepo *repository.ThreatRepository,
	cryptoSvc *crypto.Service,
	events EventSink,
	cfg *config.Config,
	log *logger.Logger,
) *ThreatService {
	return &ThreatService{
		threatRepo: threatRepo,
		crypto:     cryptoSvc,
		events:     events,
		cfg:        cfg,
		log:        log.WithComponent("threat_service"),
	}
}

// AnalyzeLoginAttempt scores a login before credentials are checked.
// The score is additive over independent signals, capped at 100, and
// blocked is true exactly when it reaches 80. If the store cannot be
// read the assessment collapses to maximum caution rather than letting
// the attempt through unscored. Every call emits a SecurityEvent.
func (s *ThreatService) AnalyzeLoginAttempt(ctx context.Context, email, ip, userAgent string) *model.RiskAssessment {
	assessment := s.scoreLogin(ctx, email, ip, userAgent)

	emitEvent(ctx, s.events, s.log, model.EventLoginRisk, eventUser(email), map[string]interface{}{
		"ip":        ip,
		"riskScore": assessment.RiskScore,
		"blocked":   assessment.Blocked,
		"reasons":   assessment.Reasons,
	})
	metrics.LoginRiskScore.WithLabelValues(strconv.FormatBool(assessment.Blocked)).Observe(float64(assessment.RiskScore))
	return assessment
}

func (s *ThreatService) scoreLogin(ctx context.Context, email, ip, userAgent string) *model.RiskAssessment {
	score := 0
	reasons := make([]string, 0, 5)

	attempts, err := s.threatRepo.AttemptCount(ctx, ip)
	if err != nil {
		return s.maxCautionRisk(email, ip, err)
	}
	if attempts > attemptThreshold {
		penalty := int(attempts) * attemptWeight
		if penalty > attemptMaxPenalty {
			penalty = attemptMaxPenalty
		}
		score += penalty
		reasons = append(reasons, "Excessive login attempts from IP")
	}

	flagged, err := s.threatRepo.IsFlaggedIP(ctx, ip)
	if err != nil {
		return s.maxCautionRisk(email, ip, err)
	}
	if flagged {
		score += flaggedIPPenalty
		reasons = append(reasons, "IP address flagged as suspicious")
	}

	knownUA, err := s.threatRepo.KnowsUserAgent(ctx, email, s.crypto.Digest(userAgent))
	if err != nil {
		return s.maxCautionRisk(email, ip, err)
	}
	if !knownUA {
		score += unknownUAPenalty
		reasons = append(reasons, "Unrecognized user agent")
	}

	knownLoc, err := s.threatRepo.KnowsLocation(ctx, email, locationClass(ip))
	if err != nil {
		return s.maxCautionRisk(email, ip, err)
	}
	if !knownLoc {
		score += newLocationPenalty
		reasons = append(reasons, "Login from new location")
	}

	knownHour, err := s.threatRepo.KnowsHour(ctx, email, currentHour())
	if err != nil {
		return s.maxCautionRisk(email, ip, err)
	}
	if !knownHour {
		score += offHoursPenalty
		reasons = append(reasons, "Login outside typical hours")
	}

	if score > maxRiskScore {
		score = maxRiskScore
	}
	return &model.RiskAssessment{
		RiskScore: score,
		Blocked:   score >= blockThreshold,
		Reasons:   reasons,
	}
}

func (s *ThreatService) maxCautionRisk(email, ip string, err error) *model.RiskAssessment {
	s.log.Error().Err(err).Str("email", email).Str("ip", ip).Msg("risk signals unavailable; assuming maximum caution")
	return &model.RiskAssessment{
		RiskScore: maxRiskScore,
		Blocked:   true,
		Reasons:   []string{"Risk signals unavailable"},
	}
}

// DetectAnomalies scores an authenticated action against the user's
// recent behavior. Confidence is additive over independent signals,
// capped at 1, and the action is anomalous once confidence reaches
// 0.5. Store trouble collapses to maximum caution. Every call emits a
// SecurityEvent.
func (s *ThreatService) DetectAnomalies(ctx context.Context, userID, action string, actionCtx map[string]string) *model.AnomalyAssessment {
	assessment := s.scoreBehavior(ctx, userID, action)

	payload := map[string]interface{}{
		"action":      action,
		"confidence":  assessment.Confidence,
		"isAnomalous": assessment.IsAnomalous,
		"reasons":     assessment.Reasons,
	}
	if len(actionCtx) > 0 {
		payload["context"] = actionCtx
	}
	emitEvent(ctx, s.events, s.log, model.EventActionAnomaly, eventUser(userID), payload)
	metrics.AnomalyConfidence.WithLabelValues(strconv.FormatBool(assessment.IsAnomalous)).Observe(assessment.Confidence)
	return assessment
}

func (s *ThreatService) scoreBehavior(ctx context.Context, userID, action string) *model.AnomalyAssessment {
	confidence := 0.0
	reasons := make([]string, 0, 3)

	count, err := s.threatRepo.ActionCount(ctx, userID, action)
	if err != nil {
		return s.maxCautionAnomaly(userID, action, err)
	}
	if count > actionFreqThreshold {
		confidence += actionFreqWeight
		reasons = append(reasons, "Unusually high action frequency")
	}

	resources, err := s.threatRepo.DistinctResources(ctx, userID)
	if err != nil {
		return s.maxCautionAnomaly(userID, action, err)
	}
	if resources > resourceThreshold {
		confidence += resourceWeight
		reasons = append(reasons, "Unusually many distinct resources")
	}

	last, known, err := s.threatRepo.LastActionAt(ctx, userID, action)
	if err != nil {
		return s.maxCautionAnomaly(userID, action, err)
	}
	if known && time.Since(last) < rapidRepeatInterval {
		confidence += rapidRepeatWeight
		reasons = append(reasons, "Action repeated unusually quickly")
	}

	if confidence > 1.0 {
		confidence = 1.0
	}
	return &model.AnomalyAssessment{
		IsAnomalous: confidence >= anomalyThreshold,
		Confidence:  confidence,
		Reasons:     reasons,
	}
}

func (s *ThreatService) maxCautionAnomaly(userID, action string, err error) *model.AnomalyAssessment {
	s.log.Error().Err(err).Str("user_id", userID).Str("action", action).Msg("behavior signals unavailable; assuming maximum caution")
	return &model.AnomalyAssessment{
		IsAnomalous: true,
		Confidence:  1.0,
		Reasons:     []string{"Behavior signals unavailable"},
	}
}

// RecordLoginAttempt feeds the counters the login scorer reads. A
// failure bumps the IP's attempt counter; a success teaches the
// account's profile the attempt's traits and clears the counter.
func (s *ThreatService) RecordLoginAttempt(ctx context.Context, attempt *model.LoginAttempt) error {
	if attempt.Success {
		uaDigest := s.crypto.Digest(attempt.UserAgent)
		if err := s.threatRepo.LearnProfile(ctx, attempt.Email, uaDigest, locationClass(attempt.IP), currentHour()); err != nil {
			s.log.Error().Err(err).Str("email", attempt.Email).Msg("failed to update login profile")
			return ErrStoreUnavailable
		}
		if err := s.threatRepo.ClearAttempts(ctx, attempt.IP); err != nil {
			s.log.Error().Err(err).Str("ip", attempt.IP).Msg("failed to clear attempt counter")
		}
	} else {
		if _, err := s.threatRepo.IncrAttempts(ctx, attempt.IP, s.cfg.Threat.AttemptWindow); err != nil {
			s.log.Error().Err(err).Str("ip", attempt.IP).Msg("failed to record login attempt")
			return ErrStoreUnavailable
		}
	}

	emitEvent(ctx, s.events, s.log, model.EventLoginRecorded, eventUser(attempt.Email), map[string]interface{}{
		"ip":      attempt.IP,
		"success": attempt.Success,
	})
	return nil
}

// RecordAction feeds the counters the behavior scorer reads
func (s *ThreatService) RecordAction(ctx context.Context, userID, action, resource string) error {
	if _, err := s.threatRepo.IncrAction(ctx, userID, action, s.cfg.Threat.ActionWindow); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to record action")
		return ErrStoreUnavailable
	}
	if resource != "" {
		if err := s.threatRepo.TouchResource(ctx, userID, resource, s.cfg.Threat.ResourceWindow); err != nil {
			s.log.Error().Err(err).Str("user_id", userID).Msg("failed to record resource")
			return ErrStoreUnavailable
		}
	}
	if err := s.threatRepo.StampAction(ctx, userID, action, time.Now().UTC(), s.cfg.Threat.ActionWindow); err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to record action time")
		return ErrStoreUnavailable
	}
	return nil
}

// FlagIP puts an IP on the known-bad list
func (s *ThreatService) FlagIP(ctx context.Context, ip string) error {
	if err := s.threatRepo.FlagIP(ctx, ip); err != nil {
		s.log.Error().Err(err).Str("ip", ip).Msg("failed to flag IP")
		return ErrStoreUnavailable
	}
	emitEvent(ctx, s.events, s.log, model.EventIPFlagged, nil, map[string]interface{}{"ip": ip})
	s.log.Info().Str("ip", ip).Msg("IP flagged")
	return nil
}

// UnflagIP removes an IP from the known-bad list
func (s *ThreatService) UnflagIP(ctx context.Context, ip string) error {
	if err := s.threatRepo.UnflagIP(ctx, ip); err != nil {
		s.log.Error().Err(err).Str("ip", ip).Msg("failed to unflag IP")
		return ErrStoreUnavailable
	}
	emitEvent(ctx, s.events, s.log, model.EventIPUnflagged, nil, map[string]interface{}{"ip": ip})
	s.log.Info().Str("ip", ip).Msg("IP unflagged")
	return nil
}

// locationClass folds an IP into a coarse network class that stands in
// for geolocation: /16 for IPv4, /64 for IPv6. Logins from the same
// network read as the same location.
func locationClass(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "unknown"
	}
	if v4 := parsed.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.0.0/16", v4[0], v4[1])
	}
	return parsed.Mask(net.CIDRMask(64, 128)).String() + "/64"
}

func currentHour() string {
	return strconv.Itoa(time.Now().UTC().Hour())
}
