// ABOUTME: Callback sink for the mautrix verification helper plus session tracking
// ABOUTME: Prompts the operator at the accept and emoji-match decision points

package verify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix/crypto/verificationhelper"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/solenoid-labs/mxcli/internal/output"
)

// Cancellation codes from the key verification framework of the
// client-server API.
const (
	cancelUser        = event.VerificationCancelCode("m.user")
	cancelMismatchSAS = event.VerificationCancelCode("m.mismatched_sas")
	cancelNoMethod    = event.VerificationCancelCode("m.unknown_method")
)

// Decision is the operator's answer at a prompt.
type Decision int

const (
	DecisionYes Decision = iota
	DecisionNo
	DecisionOther
)

// Prompter asks the operator a question and reads one decision. Prompts
// go to stdout, input comes from stdin.
type Prompter interface {
	Ask(question string) (Decision, error)
}

// Helper is the slice of the verification helper the monitor drives.
// *verificationhelper.VerificationHelper satisfies it.
type Helper interface {
	AcceptVerification(ctx context.Context, txnID id.VerificationTransactionID) error
	StartSAS(ctx context.Context, txnID id.VerificationTransactionID) error
	ConfirmSAS(ctx context.Context, txnID id.VerificationTransactionID) error
	CancelVerification(ctx context.Context, txnID id.VerificationTransactionID, code event.VerificationCancelCode, reason string) error
}

// Monitor receives verification helper callbacks for a single session
// and walks it through the SAS exchange. Callbacks arrive serially from
// the sync loop but terminal bookkeeping is locked anyway.
type Monitor struct {
	prompt Prompter
	fmt    *output.Formatter
	log    *slog.Logger

	mu     sync.Mutex
	helper Helper
	state  State
	txn    id.VerificationTransactionID

	doneOnce sync.Once
	done     chan struct{}
}

// NewMonitor creates a Monitor in the idle state. Bind must be called
// before any callback can fire.
func NewMonitor(prompt Prompter, formatter *output.Formatter, log *slog.Logger) *Monitor {
	return &Monitor{
		prompt: prompt,
		fmt:    formatter,
		log:    log,
		state:  StateIdle,
		done:   make(chan struct{}),
	}
}

// Bind attaches the helper the monitor answers through. Separate from
// the constructor because the helper itself is constructed with the
// monitor as its callback receiver.
func (m *Monitor) Bind(helper Helper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.helper = helper
}

// State returns the current session state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Wait blocks until the session reaches a terminal state, the timeout
// elapses, or the context is cancelled, and returns the final state.
func (m *Monitor) Wait(ctx context.Context, timeout time.Duration) State {
	select {
	case <-m.done:
	case <-ctx.Done():
	case <-time.After(timeout):
		m.log.Warn("verification timed out", "timeout", timeout.String())
	}
	return m.State()
}

func (m *Monitor) finish() {
	m.doneOnce.Do(func() { close(m.done) })
}

// claim adopts the transaction if the session is not terminal yet.
// Events for other transactions or after cancellation are dropped.
func (m *Monitor) claim(txnID id.VerificationTransactionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Terminal() {
		return false
	}
	if m.txn == "" {
		m.txn = txnID
	}
	return m.txn == txnID
}

func (m *Monitor) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Monitor) cancel(ctx context.Context, txnID id.VerificationTransactionID, code event.VerificationCancelCode, reason string) {
	m.mu.Lock()
	if m.state == StateCancelled {
		m.mu.Unlock()
		return
	}
	m.state = StateCancelled
	helper := m.helper
	m.mu.Unlock()

	if helper != nil {
		if err := helper.CancelVerification(ctx, txnID, code, reason); err != nil {
			m.log.Debug("cancel failed", "error", err)
		}
	}
	m.fmt.Plain(fmt.Sprintf("Verification cancelled: %s.", reason))
	m.finish()
}

// VerificationRequested handles an incoming request from another device
// or user. The operator decides whether to proceed.
func (m *Monitor) VerificationRequested(ctx context.Context, txnID id.VerificationTransactionID, from id.UserID, fromDevice id.DeviceID) {
	if !m.claim(txnID) {
		return
	}
	decision, err := m.prompt.Ask(fmt.Sprintf("Accept verification request from %s (device %s)? [y/n]", from, fromDevice))
	if err != nil || decision != DecisionYes {
		m.cancel(ctx, txnID, cancelUser, "declined by user")
		return
	}
	m.mu.Lock()
	helper := m.helper
	m.mu.Unlock()
	if err := helper.AcceptVerification(ctx, txnID); err != nil {
		m.log.Error("accepting verification failed", "error", err)
		m.cancel(ctx, txnID, cancelUser, "accept failed")
		return
	}
	m.setState(StateStarted)
}

// VerificationReady fires when both sides agreed on capabilities. Only
// the emoji SAS method is supported here.
func (m *Monitor) VerificationReady(ctx context.Context, txnID id.VerificationTransactionID, otherDeviceID id.DeviceID, supportsSAS, supportsScanQRCode bool, qrCode *verificationhelper.QRCode) {
	if !m.claim(txnID) {
		return
	}
	if !supportsSAS {
		m.cancel(ctx, txnID, cancelNoMethod, "peer does not support emoji SAS")
		return
	}
	m.mu.Lock()
	helper := m.helper
	m.mu.Unlock()
	if err := helper.StartSAS(ctx, txnID); err != nil {
		m.log.Error("starting SAS failed", "error", err)
		m.cancel(ctx, txnID, cancelUser, "SAS start failed")
	}
}

// ShowSAS displays the short authentication string and reads the
// operator's verdict. Y confirms, N reports a mismatch, anything else
// walks away without accusing the peer.
func (m *Monitor) ShowSAS(ctx context.Context, txnID id.VerificationTransactionID, emojis []rune, emojiDescriptions []string, decimals []int) {
	if !m.claim(txnID) {
		return
	}
	m.setState(StateKeyExchanged)
	m.fmt.Plain("Compare the following with the other device:")
	m.fmt.Plain(formatSAS(emojis, emojiDescriptions, decimals))

	decision, err := m.prompt.Ask("Do both devices show the same emojis? [y/n/c]")
	if err != nil {
		m.cancel(ctx, txnID, cancelUser, "no decision")
		return
	}
	switch decision {
	case DecisionYes:
		m.mu.Lock()
		helper := m.helper
		m.mu.Unlock()
		if err := helper.ConfirmSAS(ctx, txnID); err != nil {
			m.log.Error("confirming SAS failed", "error", err)
			m.cancel(ctx, txnID, cancelUser, "confirm failed")
			return
		}
		m.setState(StateMacExchanged)
	case DecisionNo:
		m.cancel(ctx, txnID, cancelMismatchSAS, "emoji mismatch")
	default:
		m.cancel(ctx, txnID, cancelUser, "aborted by user")
	}
}

// VerificationDone marks the session verified.
func (m *Monitor) VerificationDone(ctx context.Context, txnID id.VerificationTransactionID, method event.VerificationMethod) {
	if !m.claim(txnID) {
		return
	}
	m.setState(StateVerified)
	m.fmt.Plain("Verification complete. The device is now trusted.")
	m.finish()
}

// VerificationCancelled records a cancellation initiated by the peer.
// Duplicate cancels are ignored.
func (m *Monitor) VerificationCancelled(ctx context.Context, txnID id.VerificationTransactionID, code event.VerificationCancelCode, reason string) {
	m.mu.Lock()
	already := m.state == StateCancelled
	m.state = StateCancelled
	m.mu.Unlock()
	if already {
		return
	}
	m.fmt.Plain(fmt.Sprintf("Verification cancelled by peer (%s): %s.", string(code), reason))
	m.finish()
}

// formatSAS renders the emoji row, their names, and the decimal
// fallback as a single block.
func formatSAS(emojis []rune, descriptions []string, decimals []int) string {
	var b strings.Builder
	if len(emojis) > 0 {
		for i, r := range emojis {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteRune(r)
		}
		if len(descriptions) > 0 {
			b.WriteString("\n")
			b.WriteString(strings.Join(descriptions, ", "))
		}
	}
	if len(decimals) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		parts := make([]string, len(decimals))
		for i, d := range decimals {
			parts[i] = fmt.Sprintf("%d", d)
		}
		b.WriteString("Numbers: " + strings.Join(parts, " "))
	}
	return b.String()
}
