package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openverify/verify-api/pkg/chain"
	"github.com/openverify/verify-api/pkg/model"
	"github.com/openverify/verify-api/pkg/store"
)

// upgradeInstructionPrefix marks an upgradeable-loader Upgrade instruction in
// the webhook payload's encoded instruction data.
const upgradeInstructionPrefix = "5Sxr3"

// TxInstruction is one instruction of a parsed transaction as delivered by
// the chain-notification provider.
type TxInstruction struct {
	ProgramID string   `json:"programId"`
	Data      string   `json:"data"`
	Accounts  []string `json:"accounts"`
}

// ParsedTransaction is one element of the webhook payload array.
type ParsedTransaction struct {
	Signature    string          `json:"signature"`
	Instructions []TxInstruction `json:"instructions"`
}

// ProcessUpgrades handles /unverify notifications: for every upgrade
// instruction, recompute the on-chain hash and unverify the program when it
// no longer matches the stored one.
func (s *Service) ProcessUpgrades(ctx context.Context, txs []ParsedTransaction) {
	for _, tx := range txs {
		for _, ins := range tx.Instructions {
			if !strings.HasPrefix(ins.Data, upgradeInstructionPrefix) || len(ins.Accounts) < 2 {
				continue
			}
			programID := ins.Accounts[1]
			s.reconcileUpgradedProgram(ctx, programID)
		}
	}
}

// ProcessPdaUpdates handles /pda-updates notifications: a changed or created
// build-params PDA unverifies stale results and triggers a fresh build with
// the PDA's signer.
func (s *Service) ProcessPdaUpdates(ctx context.Context, txs []ParsedTransaction) {
	verifier := chain.OtterVerifyProgramID.String()
	for _, tx := range txs {
		for _, ins := range tx.Instructions {
			if ins.ProgramID != verifier || len(ins.Accounts) < 3 {
				continue
			}
			programID := ins.Accounts[2]
			pda := ins.Accounts[0]
			s.reconcilePdaUpdate(ctx, programID, pda)
		}
	}
}

func (s *Service) reconcileUpgradedProgram(ctx context.Context, programID string) {
	vr, err := s.store.GetVerified(ctx, programID, nil)
	if store.IsNotFound(err) {
		return
	}
	if err != nil {
		s.logger.Warn("upgrade hook lookup failed", "program_id", programID, "error", err)
		return
	}

	newHash, err := s.chain.GetOnChainHash(ctx, programID)
	if err != nil {
		s.logger.Warn("upgrade hook hash recompute failed", "program_id", programID, "error", err)
		return
	}
	if newHash == vr.Verified.OnChainHash {
		return
	}
	s.UnverifyProgram(ctx, programID, newHash)
}

func (s *Service) reconcilePdaUpdate(ctx context.Context, programID, pda string) {
	vr, err := s.store.GetVerified(ctx, programID, nil)
	if err != nil && !store.IsNotFound(err) {
		s.logger.Warn("pda hook lookup failed", "program_id", programID, "error", err)
		return
	}

	newHash, herr := s.chain.GetOnChainHash(ctx, programID)
	if herr != nil {
		s.logger.Warn("pda hook hash recompute failed", "program_id", programID, "error", herr)
		return
	}
	if err == nil && vr.Verified.ExecutableHash != newHash {
		s.UnverifyProgram(ctx, programID, newHash)
	}

	params, perr := s.chain.FetchPdaAccount(ctx, pda)
	if perr != nil {
		s.logger.Warn("pda account fetch failed", "pda", pda, "error", perr)
		return
	}
	signer := params.Signer.String()
	if _, verr := s.Verify(ctx, programID, &signer, "", false); verr != nil {
		s.logger.Warn("pda-triggered verify failed", "program_id", programID, "error", verr)
	}
}

// UnverifyProgram records a fresh on-chain hash with is_verified=false and
// drops the cached verdicts.
func (s *Service) UnverifyProgram(ctx context.Context, programID, newHash string) {
	if err := s.store.UpdateOnChainHash(ctx, programID, newHash, false); err != nil {
		s.logger.Warn("unverify update failed", "program_id", programID, "error", err)
		return
	}
	s.invalidateStatus(ctx, programID)
	s.logger.Info("program unverified after upgrade", "program_id", programID, "new_hash", newHash)
}

// Notifier POSTs completion notifications to submitter webhooks. Long-running
// builds mean long waits; the client timeout is deliberately generous.
type Notifier struct {
	client *http.Client
	logger *slog.Logger
}

// NewNotifier builds a webhook client with an 18000-second timeout.
func NewNotifier() *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: 18000 * time.Second},
		logger: slog.Default().With("component", "webhook"),
	}
}

// Notify delivers the notification. Failures are logged, never retried.
func (n *Notifier) Notify(ctx context.Context, url string, msg model.WebhookNotification) {
	body, err := json.Marshal(msg)
	if err != nil {
		n.logger.Error("webhook encode failed", "url", url, "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("webhook request build failed", "url", url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed", "url", url, "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		n.logger.Warn("webhook rejected", "url", url, "status", resp.StatusCode)
		return
	}
	n.logger.Info("webhook delivered", "url", url, "request_id", msg.RequestID)
}
