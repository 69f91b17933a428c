// Package pipeline runs a launch from a verified social post to a ledger
// record: verify, validate, admit, publish metadata, create, sign, broadcast
// and commit. Each request runs sequentially; requests run concurrently.
package pipeline

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postlaunch/internal/creation"
	"github.com/sawpanic/postlaunch/internal/domain/launch"
	"github.com/sawpanic/postlaunch/internal/journal"
	"github.com/sawpanic/postlaunch/internal/metadata"
	"github.com/sawpanic/postlaunch/internal/metrics"
	"github.com/sawpanic/postlaunch/internal/persistence"
	"github.com/sawpanic/postlaunch/internal/social"
)

// cleanupTimeout bounds ledger writes made after a stage failed
const cleanupTimeout = 10 * time.Second

// Verifier checks the caller and the triggering post
type Verifier interface {
	Verify(ctx context.Context, credential, postID string) (social.Verified, error)
	Identify(ctx context.Context, credential string) (launch.Identity, error)
}

// Validator turns post content into a launch request
type Validator interface {
	Validate(agentID, postID, content string) (launch.Request, error)
}

// Admitter reserves a request's symbol and post, and enforces the agent
// cooldown again when a record is committed
type Admitter interface {
	Admit(ctx context.Context, req launch.Request) (persistence.Reservation, error)
	CheckCooldown(at, lastConfirmed time.Time) error
}

// Signer signs creation templates with the requester key and the one-time secret
type Signer interface {
	PublicKey() ed25519.PublicKey
	Sign(templates []launch.Template, secret *launch.OneTimeSecret) ([]launch.SignedTx, error)
}

// Broadcaster lands a signed batch
type Broadcaster interface {
	Broadcast(ctx context.Context, txs []launch.SignedTx) (launch.BroadcastProof, error)
}

// Deps are the collaborators of a Service. Metrics is optional.
type Deps struct {
	Verifier    Verifier
	Validator   Validator
	Guard       Admitter
	Publisher   metadata.Publisher
	Creator     creation.Client
	Signer      Signer
	Broadcaster Broadcaster
	Ledger      persistence.Ledger
	Journal     journal.Journal
	Metrics     *metrics.Registry
}

// Service executes launches
type Service struct {
	deps Deps
	now  func() time.Time

	mu     sync.Mutex
	active map[string]string // post id -> run id
}

// New checks that every required collaborator is present
func New(deps Deps) (*Service, error) {
	var missing []string
	if deps.Verifier == nil {
		missing = append(missing, "verifier")
	}
	if deps.Validator == nil {
		missing = append(missing, "validator")
	}
	if deps.Guard == nil {
		missing = append(missing, "guard")
	}
	if deps.Publisher == nil {
		missing = append(missing, "publisher")
	}
	if deps.Creator == nil {
		missing = append(missing, "creator")
	}
	if deps.Signer == nil {
		missing = append(missing, "signer")
	}
	if deps.Broadcaster == nil {
		missing = append(missing, "broadcaster")
	}
	if deps.Ledger == nil {
		missing = append(missing, "ledger")
	}
	if deps.Journal == nil {
		missing = append(missing, "journal")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline: missing collaborators %v", missing)
	}
	return &Service{deps: deps, now: time.Now, active: make(map[string]string)}, nil
}

// WithClock replaces the time source used for record timestamps
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// run is the per-request state
type run struct {
	id      string
	postID  string
	log     zerolog.Logger
	machine *launch.Machine
	metrics *metrics.Registry
	assetID string
}

func (s *Service) newRun(postID string, machine *launch.Machine) *run {
	id := uuid.New().String()
	r := &run{
		id:      id,
		postID:  postID,
		log:     log.With().Str("run_id", id).Str("post_id", postID).Logger(),
		machine: machine,
		metrics: s.deps.Metrics,
	}
	if r.metrics != nil {
		r.metrics.LaunchStarted()
	}
	return r
}

// step runs fn and advances the machine when it succeeds
func (r *run) step(stage launch.Stage, fn func() error) error {
	var timer *metrics.StageTimer
	if r.metrics != nil {
		timer = r.metrics.StartStage(stage)
	}
	err := fn()
	if timer != nil {
		if err != nil {
			timer.Stop(metrics.ResultError)
		} else {
			timer.Stop(metrics.ResultSuccess)
		}
	}
	if err != nil {
		return err
	}
	if err := r.machine.Advance(stage); err != nil {
		return launch.Wrap(launch.KindLedger, err, "pipeline state")
	}
	r.log.Debug().Str("state", r.machine.State().String()).Msg("Stage complete")
	return nil
}

// fail ends the run with a structured failure
func (r *run) fail(stage launch.Stage, fallback launch.Kind, err error) *launch.Failure {
	r.machine.Fail()
	f := launch.NewFailure(r.id, r.postID, stage, fallback, err)
	f.AssetID = r.assetID
	r.finish(f)

	ev := r.log.Warn()
	if f.Stranded() {
		ev = r.log.Error().Str("asset_id", f.AssetID)
	}
	ev.Str("stage", string(stage)).Str("kind", string(f.Kind)).Msg(f.Detail)
	return f
}

func (r *run) finish(f *launch.Failure) {
	if r.metrics != nil {
		r.metrics.LaunchFinished(f)
	}
}

// SubmitLaunch runs the whole pipeline for postID on behalf of the agent
// owning credential. On failure the error is a *launch.Failure.
func (s *Service) SubmitLaunch(ctx context.Context, credential, postID string) (launch.Record, error) {
	r := s.newRun(postID, launch.NewMachine())
	d := s.deps

	var verified social.Verified
	if err := r.step(launch.StageVerify, func() (err error) {
		verified, err = d.Verifier.Verify(ctx, credential, postID)
		return err
	}); err != nil {
		return launch.Record{}, r.fail(launch.StageVerify, launch.KindPlatform, err)
	}
	r.log = r.log.With().Str("agent_id", verified.Agent.ID).Logger()

	var req launch.Request
	if err := r.step(launch.StageValidate, func() (err error) {
		req, err = d.Validator.Validate(verified.Agent.ID, verified.PostID, verified.Content)
		return err
	}); err != nil {
		return launch.Record{}, r.fail(launch.StageValidate, launch.KindParse, err)
	}
	r.log = r.log.With().Str("symbol", req.Symbol).Logger()

	if err := r.step(launch.StageAdmit, func() error {
		_, err := d.Guard.Admit(ctx, req)
		return err
	}); err != nil {
		return launch.Record{}, r.fail(launch.StageAdmit, launch.KindLedger, err)
	}
	s.track(req.SourcePostID, r.id)
	defer s.untrack(req.SourcePostID)

	var metadataURI string
	if err := r.step(launch.StagePublish, func() (err error) {
		metadataURI, err = d.Publisher.Publish(ctx, req)
		return err
	}); err != nil {
		s.release(ctx, r, err)
		return launch.Record{}, r.fail(launch.StagePublish, launch.KindUpload, err)
	}

	var created creation.Result
	if err := r.step(launch.StageCreate, func() (err error) {
		created, err = d.Creator.Create(ctx, d.Signer.PublicKey(), req, metadataURI)
		return err
	}); err != nil {
		if creation.OutcomeUnknown(err) {
			s.stall(ctx, r, err)
		} else {
			s.release(ctx, r, err)
		}
		return launch.Record{}, r.fail(launch.StageCreate, launch.KindCreation, err)
	}
	r.assetID = created.AssetID
	r.log = r.log.With().Str("asset_id", created.AssetID).Logger()

	if err := d.Ledger.MarkCreated(ctx, req.SourcePostID, created.AssetID); err != nil {
		created.Secret.Wipe()
		s.stall(ctx, r, err)
		return launch.Record{}, r.fail(launch.StageCreate, launch.KindLedger, err)
	}

	var txs []launch.SignedTx
	if err := r.step(launch.StageSign, func() (err error) {
		txs, err = d.Signer.Sign(created.Templates, created.Secret)
		return err
	}); err != nil {
		s.stall(ctx, r, err)
		return launch.Record{}, r.fail(launch.StageSign, launch.KindSigning, err)
	}

	entry := journal.Entry{
		PostID:      req.SourcePostID,
		AgentID:     req.RequestingAgentID,
		Request:     req,
		MetadataURI: metadataURI,
		AssetID:     created.AssetID,
		SignedTxs:   txs,
		CreatedAt:   s.now().UTC(),
	}
	if err := d.Journal.Put(ctx, entry); err != nil {
		r.log.Error().Err(err).Msg("Journal write failed; this launch cannot be resumed")
	}

	return s.finish(ctx, r, entry)
}

// finish broadcasts a signed batch and commits the record
func (s *Service) finish(ctx context.Context, r *run, e journal.Entry) (launch.Record, error) {
	d := s.deps

	var proof launch.BroadcastProof
	if err := r.step(launch.StageBroadcast, func() (err error) {
		proof, err = d.Broadcaster.Broadcast(ctx, e.SignedTxs)
		return err
	}); err != nil {
		s.stall(ctx, r, err)
		return launch.Record{}, r.fail(launch.StageBroadcast, launch.KindBroadcast, err)
	}

	rec := launch.NewRecord(e.Request, e.AssetID, e.MetadataURI, proof, s.now())
	if err := r.step(launch.StageCommit, func() error {
		return d.Ledger.Append(ctx, rec, d.Guard.CheckCooldown)
	}); err != nil {
		s.stall(ctx, r, err)
		return launch.Record{}, r.fail(launch.StageCommit, launch.KindLedger, err)
	}

	if err := d.Journal.Delete(ctx, e.PostID); err != nil {
		r.log.Warn().Err(err).Msg("Journal cleanup failed")
	}
	r.finish(nil)
	r.log.Info().
		Str("proof", proof.String()).
		Str("endpoint", proof.Endpoint).
		Msg("Launch confirmed")
	return rec, nil
}

// ResumeLaunch re-broadcasts a launch whose asset was created but never
// confirmed. The creation service is not called again. A launch that is
// already confirmed returns its existing record.
func (s *Service) ResumeLaunch(ctx context.Context, credential, postID string) (launch.Record, error) {
	r := s.newRun(postID, launch.ResumeMachine(launch.StateSigned))
	d := s.deps

	agent, err := d.Verifier.Identify(ctx, credential)
	if err != nil {
		return launch.Record{}, r.fail(launch.StageResume, launch.KindPlatform, err)
	}
	r.log = r.log.With().Str("agent_id", agent.ID).Logger()

	res, err := d.Ledger.Reservation(ctx, postID)
	if errors.Is(err, persistence.ErrNotFound) {
		return launch.Record{}, r.fail(launch.StageResume, launch.KindNotFound,
			launch.Errorf(launch.KindNotFound, "no launch was admitted for post %s", postID))
	}
	if err != nil {
		return launch.Record{}, r.fail(launch.StageResume, launch.KindLedger, err)
	}
	if res.AgentID != agent.ID {
		return launch.Record{}, r.fail(launch.StageResume, launch.KindOwnershipMismatch,
			launch.Errorf(launch.KindOwnershipMismatch, "post %s was launched by %s, not by caller %s", postID, res.AgentID, agent.ID))
	}
	r.assetID = res.AssetID

	switch res.Status {
	case persistence.StatusConfirmed:
		rec, err := d.Ledger.ByPost(ctx, postID)
		if err != nil {
			return launch.Record{}, r.fail(launch.StageResume, launch.KindLedger, err)
		}
		r.finish(nil)
		r.log.Info().Str("asset_id", rec.AssetID).Msg("Launch already confirmed")
		return rec, nil
	case persistence.StatusCreated, persistence.StatusStalled:
	default:
		return launch.Record{}, r.fail(launch.StageResume, launch.KindResumeUnavailable,
			launch.Errorf(launch.KindResumeUnavailable, "launch is %s; no asset to broadcast", res.Status))
	}

	if other, ok := s.claim(postID, r.id); !ok {
		return launch.Record{}, r.fail(launch.StageResume, launch.KindInProgress,
			launch.Errorf(launch.KindInProgress, "post %s is being processed by run %s", postID, other))
	}
	defer s.untrack(postID)

	entry, err := d.Journal.Get(ctx, postID)
	if errors.Is(err, journal.ErrNotFound) {
		return launch.Record{}, r.fail(launch.StageResume, launch.KindResumeUnavailable,
			launch.Errorf(launch.KindResumeUnavailable, "no signed batch was kept for post %s", postID))
	}
	if err != nil {
		return launch.Record{}, r.fail(launch.StageResume, launch.KindResumeUnavailable, err)
	}
	if entry.AssetID != res.AssetID && res.AssetID != "" {
		return launch.Record{}, r.fail(launch.StageResume, launch.KindResumeUnavailable,
			launch.Errorf(launch.KindResumeUnavailable, "journal asset %s does not match reservation asset %s", entry.AssetID, res.AssetID))
	}
	r.assetID = entry.AssetID
	r.log = r.log.With().Str("asset_id", entry.AssetID).Logger()

	// Nothing is broadcast while a newer launch of the agent holds the cooldown
	if err := s.checkCooldown(ctx, agent.ID); err != nil {
		return launch.Record{}, r.fail(launch.StageResume, launch.KindLedger, err)
	}

	r.log.Info().Str("status", string(res.Status)).Int("txs", len(entry.SignedTxs)).Msg("Resuming launch")

	return s.finish(ctx, r, entry)
}

func (s *Service) checkCooldown(ctx context.Context, agentID string) error {
	last, err := s.deps.Ledger.LatestByAgent(ctx, agentID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.deps.Guard.CheckCooldown(s.now(), last.CreatedAt)
}

// release frees the symbol after a failure before creation
func (s *Service) release(ctx context.Context, r *run, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := s.deps.Ledger.Release(ctx, r.postID, cause.Error()); err != nil {
		r.log.Error().Err(err).Msg("Failed to release reservation")
	}
}

// stall keeps the symbol held for a launch whose asset may exist
func (s *Service) stall(ctx context.Context, r *run, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := s.deps.Ledger.MarkStalled(ctx, r.postID, cause.Error()); err != nil {
		r.log.Error().Err(err).Msg("Failed to mark reservation stalled")
	}
}

func (s *Service) track(postID, runID string) {
	s.mu.Lock()
	s.active[postID] = runID
	s.mu.Unlock()
}

func (s *Service) untrack(postID string) {
	s.mu.Lock()
	delete(s.active, postID)
	s.mu.Unlock()
}

// claim tracks postID unless another run in this process already holds it
func (s *Service) claim(postID, runID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if other, busy := s.active[postID]; busy {
		return other, false
	}
	s.active[postID] = runID
	return runID, true
}
