package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"lendmigrate/core/events"
	"lendmigrate/core/types"
	"lendmigrate/crypto"
	"lendmigrate/native/migration"
	"lendmigrate/services/migrated/api"
	"lendmigrate/services/migrated/middleware"
	"lendmigrate/services/migrated/storage"
)

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var doc api.PositionDocument
	if err := decodeJSON(w, r, &doc); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := uuid.New()
	resp, err := s.plan(doc, id)
	s.recordAudit(r.Context(), storage.KindPlan, id, doc, s.admin.FeeRate(), resp, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) plan(doc api.PositionDocument, id uuid.UUID) (*api.PlanResponse, error) {
	mctx, err := doc.Context()
	if err != nil {
		return nil, err
	}
	plan, err := migration.NewPlan(mctx, s.deployment.MaxPositions, s.admin.FeeRate(), s.deployment.PremiumBps)
	if err != nil {
		return nil, err
	}
	calldata, err := s.contracts.PackTransferAccount(plan.Context.Destination, plan.Context.Debts, plan.Context.Collaterals)
	if err != nil {
		return nil, err
	}
	resp := api.NewPlanResponse(id.String(), plan, calldata)
	return &resp, nil
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var doc api.PositionDocument
	if err := decodeJSON(w, r, &doc); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.simulate(r.Context(), doc)
	id := uuid.New()
	if resp != nil {
		if parsed, perr := uuid.Parse(resp.ID); perr == nil {
			id = parsed
		}
	}
	s.recordAudit(r.Context(), storage.KindSimulation, id, doc, s.admin.FeeRate(), resp, err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) simulate(ctx context.Context, doc api.PositionDocument) (*api.SimulationResponse, error) {
	mctx, err := doc.Context()
	if err != nil {
		return nil, err
	}
	cfg := s.deployment
	cfg.FeeBps = s.admin.FeeRate()
	cfg.MaxFeeBps = s.admin.MaxFeeRate()
	cfg.Owner = s.admin.Owner()
	sb, err := migration.NewSandbox(cfg)
	if err != nil {
		return nil, err
	}
	sb.Engine.SetLogger(s.logger)
	if err := sb.Seed(ctx, mctx); err != nil {
		return nil, fmt.Errorf("seed source position: %w", err)
	}
	mark := len(sb.Events.Events())
	result, err := sb.Migrate(ctx, mctx)
	if err != nil {
		return nil, err
	}

	recorded := sb.Events.Events()[mark:]
	committed := make([]*types.Event, 0, len(recorded))
	for _, evt := range recorded {
		rendered := events.Render(evt)
		committed = append(committed, rendered)
		s.hub.Publish(rendered)
	}
	source := sb.Position(mctx.Source)
	destination := sb.Position(mctx.Destination)
	resp := api.NewSimulationResponse(result,
		api.DocumentFromPosition(source.Account, source.Debts, source.Collaterals),
		api.DocumentFromPosition(destination.Account, destination.Debts, destination.Collaterals),
		committed)
	return &resp, nil
}

func (s *Server) handleGetMigration(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		s.writeError(w, r, storage.ErrNotFound)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: migration id", errBadRequest))
		return
	}
	rec, err := s.audit.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.AuditRecord{
		ID:          rec.ID.String(),
		Kind:        rec.Kind,
		Outcome:     rec.Outcome,
		Source:      rec.Source,
		Destination: rec.Destination,
		FeeRateBps:  rec.FeeRateBps,
		Error:       rec.Error,
		Payload:     rec.Payload,
		Digest:      rec.Digest,
		Verified:    rec.Verify(),
		CreatedAt:   rec.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

func (s *Server) feeResponse() api.FeeResponse {
	return api.FeeResponse{
		RateBps:    s.admin.FeeRate(),
		MaxRateBps: s.admin.MaxFeeRate(),
		Owner:      s.admin.Owner().Hex(),
	}
}

func (s *Server) handleGetFee(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.feeResponse())
}

func (s *Server) handlePutFee(w http.ResponseWriter, r *http.Request) {
	var req api.FeeUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	subject := middleware.Subject(r.Context())
	caller, err := feeCaller(subject, req.Caller)
	if err == nil {
		err = s.admin.ChangeFee(r.Context(), caller, req.RateBps)
	}

	outcome, message := storage.OutcomeAccepted, ""
	if err != nil {
		outcome, message = storage.OutcomeRejected, err.Error()
	}
	payload, _ := json.Marshal(req)
	s.storeAudit(r.Context(), &storage.AuditRecord{
		Kind:       storage.KindFeeChange,
		Outcome:    outcome,
		Actor:      subject,
		FeeRateBps: req.RateBps,
		Error:      message,
		Payload:    string(payload),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.feeResponse())
}

// feeCaller resolves the account changing the fee from the token subject.
// A caller named in the body must agree with it.
func feeCaller(subject, claimed string) (common.Address, error) {
	if strings.TrimSpace(subject) == "" {
		return common.Address{}, errUnauthenticated
	}
	caller, err := crypto.ParseAddress(subject)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: subject %q is not an account", migration.ErrUnauthorized, subject)
	}
	if strings.TrimSpace(claimed) == "" {
		return caller, nil
	}
	named, err := crypto.ParseAddress(claimed)
	if err != nil {
		return common.Address{}, err
	}
	if named != caller {
		return common.Address{}, fmt.Errorf("%w: caller %s does not match token subject", migration.ErrUnauthorized, named.Hex())
	}
	return caller, nil
}

func (s *Server) recordAudit(ctx context.Context, kind string, id uuid.UUID, doc api.PositionDocument, rate uint64, resp interface{}, failure error) {
	rec := &storage.AuditRecord{
		ID:          id,
		Kind:        kind,
		Outcome:     storage.OutcomeAccepted,
		Source:      doc.Source,
		Destination: doc.Destination,
		Actor:       middleware.Subject(ctx),
		FeeRateBps:  rate,
	}
	if failure != nil {
		rec.Outcome = storage.OutcomeRejected
		rec.Error = failure.Error()
		payload, _ := json.Marshal(doc)
		rec.Payload = string(payload)
	} else {
		payload, _ := json.Marshal(resp)
		rec.Payload = string(payload)
	}
	s.storeAudit(ctx, rec)
}

func (s *Server) storeAudit(ctx context.Context, rec *storage.AuditRecord) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, rec); err != nil {
		s.logger.Error("audit write failed", "error", err, "migration_id", rec.ID.String())
	}
}
