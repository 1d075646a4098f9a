package contact_sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/funnelcoach/relay/internal/platform/crm"
	cfgpkg "github.com/funnelcoach/relay/pkg/config"
	"github.com/funnelcoach/relay/pkg/logctx"
	"github.com/funnelcoach/relay/pkg/types"
)

// CRMClient is the narrow slice of the CRM API contact sync needs.
type CRMClient interface {
	LookupContactByEmail(ctx context.Context, email string) (*crm.Contact, error)
	UpsertContact(ctx context.Context, req *crm.UpsertContactRequest) (string, error)
	CreateOpportunity(ctx context.Context, ref crm.StageRef, contactID, title string) error
}

// Service projects normalized billing events onto CRM contact records:
// read existing tags, union with the event's tags, overwrite audit fields,
// upsert keyed by email. First-time trial checkouts additionally open a
// sales opportunity on the configured pipeline stage.
type Service struct {
	crm          CRMClient
	stages       crm.StageResolver
	pipelineName string
	stageName    string
	log          *zap.SugaredLogger
	locks        *keyedMutex
	enabled      bool
}

func NewService(cfg *cfgpkg.Config, client *crm.Client, stages crm.StageResolver, log *zap.SugaredLogger) *Service {
	return &Service{
		crm:          client,
		stages:       stages,
		pipelineName: cfg.CRM.PipelineName,
		stageName:    cfg.CRM.StageName,
		log:          log,
		locks:        newKeyedMutex(),
		enabled:      cfg.CRMEnabled(),
	}
}

// NewServiceWithClient wires an explicit client without the opportunity
// step, used by tests.
func NewServiceWithClient(client CRMClient, log *zap.SugaredLogger) *Service {
	return &Service{crm: client, log: log, locks: newKeyedMutex(), enabled: true}
}

// SyncContact merges newTags into the contact's existing tag set and writes
// the audit fields, creating the contact if needed. Returns the CRM contact
// id. The lookup fails soft; only the upsert itself can return an error.
//
// The read-merge-write is serialized per email within this process. Two
// processes can still race; the CRM's own concurrency control is the only
// protection across processes.
func (s *Service) SyncContact(ctx context.Context, identity types.ContactIdentity, newTags []string, fields types.AuditFields) (string, error) {
	if !s.enabled {
		logctx.FromCtx(ctx, s.log).Warnw("contact sync disabled, skipping", "email", identity.Email)
		return "", nil
	}
	if identity.Email == "" {
		return "", fmt.Errorf("contact identity has no email")
	}

	key := strings.ToLower(identity.Email)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	existing, err := s.crm.LookupContactByEmail(ctx, identity.Email)
	if err != nil {
		// Degrade to the empty tag set; the lookup must never block the upsert.
		logctx.FromCtx(ctx, s.log).Warnw("crm lookup failed, assuming no existing tags",
			"email", identity.Email, "error", err.Error())
		existing = nil
	}

	var existingTags []string
	if existing != nil {
		existingTags = existing.Tags
	}
	finalTags := lo.Uniq(append(append([]string{}, existingTags...), newTags...))
	finalFields := s.mergeFields(existing, fields)

	req := &crm.UpsertContactRequest{
		Email:        identity.Email,
		FirstName:    identity.FirstName,
		LastName:     identity.LastName,
		Phone:        identity.Phone,
		Tags:         finalTags,
		CustomFields: finalFields,
	}

	id, err := s.crm.UpsertContact(ctx, req)
	if err != nil {
		crmUpsertCnt.WithLabelValues("error").Inc()
		logctx.FromCtx(ctx, s.log).Errorw("crm upsert failed",
			"email", identity.Email,
			"tags", finalTags,
			"error", err.Error())
		return "", fmt.Errorf("failed to upsert contact %s: %w", identity.Email, err)
	}

	crmUpsertCnt.WithLabelValues("ok").Inc()
	logctx.FromCtx(ctx, s.log).Infow("contact synced",
		"email", identity.Email, "contact_id", id, "tags", finalTags)

	if s.isFirstTrial(existingTags, newTags) {
		s.openTrialOpportunity(ctx, id, identity)
	}
	return id, nil
}

// isFirstTrial reports whether this sync introduces the trial tag for the
// first time. Repeated deliveries of the same checkout event find the tag
// already present and create nothing.
func (s *Service) isFirstTrial(existingTags, newTags []string) bool {
	trial := string(types.StatusTagTrialCheckout)
	return lo.Contains(newTags, trial) && !lo.Contains(existingTags, trial)
}

// openTrialOpportunity is best-effort pipeline placement for new trial
// leads. Failures are logged and never fail the sync.
func (s *Service) openTrialOpportunity(ctx context.Context, contactID string, identity types.ContactIdentity) {
	if s.stages == nil || s.pipelineName == "" || s.stageName == "" {
		return
	}
	log := logctx.FromCtx(ctx, s.log)

	ref, err := s.stages.ResolveStage(ctx, s.pipelineName, s.stageName)
	if err != nil {
		log.Warnw("stage resolution failed, skipping opportunity",
			"email", identity.Email, "pipeline", s.pipelineName, "stage", s.stageName, "error", err.Error())
		return
	}

	title := strings.TrimSpace(identity.FirstName + " " + identity.LastName)
	if title == "" {
		title = identity.Email
	}
	if err := s.crm.CreateOpportunity(ctx, ref, contactID, title); err != nil {
		log.Warnw("opportunity creation failed",
			"email", identity.Email, "contact_id", contactID, "error", err.Error())
		return
	}
	log.Infow("trial opportunity opened",
		"email", identity.Email, "contact_id", contactID, "stage", s.stageName)
}

// mergeFields applies last-write-wins to audit fields, except
// subscription_status: an event older than the contact's recorded
// last_event_time must not move the status backwards. Tags still merge
// either way.
func (s *Service) mergeFields(existing *crm.Contact, fields types.AuditFields) map[string]string {
	final := make(map[string]string, len(fields))
	for k, v := range fields {
		final[k] = v
	}
	if existing == nil || len(existing.CustomFields) == 0 {
		return final
	}

	prev, okPrev := types.ParseEventTime(existing.CustomFields[types.FieldLastEventTime])
	cur, okCur := types.ParseEventTime(fields[types.FieldLastEventTime])
	if okPrev && okCur && cur.Before(prev) {
		if prevStatus := existing.CustomFields[types.FieldSubscriptionStatus]; prevStatus != "" {
			final[types.FieldSubscriptionStatus] = prevStatus
		}
	}
	return final
}
