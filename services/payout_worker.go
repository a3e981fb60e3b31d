package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"showtix/config"
	"showtix/internal/payment"
	"showtix/internal/status"
	"showtix/machines"
	"showtix/models"
	"showtix/monitoring"
	"showtix/queue"
	"showtix/store"
)

// How long to wait before rechecking an invoice whose payments have not
// confirmed yet. Refunds cannot open until the processor has the funds.
const refundRecheckDelay = time.Minute

// PayoutWorker consumes the payout queue and owns every processor round
// trip that moves money out: ticket refunds, dispute refunds, and creator
// withdrawals. Processor calls and state writes cannot share a
// transaction, so a crash in between can double-submit; the status guards
// on each branch keep replays from compounding.
type PayoutWorker struct {
	store     store.Store
	queue     queue.Enqueuer
	processor payment.Processor
	config    *config.Config
}

func NewPayoutWorker(st store.Store, q queue.Enqueuer, processor payment.Processor, cfg *config.Config) *PayoutWorker {
	return &PayoutWorker{store: st, queue: q, processor: processor, config: cfg}
}

func (w *PayoutWorker) Handle(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case machines.JobCreateRefund:
		return w.createRefund(ctx, job, false)
	case JobDisputePayout:
		return w.createRefund(ctx, job, true)
	case JobCreatePayout:
		return w.createPayout(ctx, job)
	case JobPayoutUpdate:
		return w.payoutUpdate(ctx, job)
	}
	return fmt.Errorf("%w: unknown payout job type %q", queue.ErrUnrecoverable, job.Type)
}

// createRefund opens processor refunds for a ticket, one per currency the
// customer paid in. The dispute leg pays out the arbitrator-approved
// amounts, which may be less than what the customer asked for.
func (w *PayoutWorker) createRefund(ctx context.Context, job *queue.Job, dispute bool) error {
	ticketID := payloadString(job.Payload, "ticket_id")
	if ticketID == "" {
		return fmt.Errorf("%w: refund job %s has no ticket_id", queue.ErrUnrecoverable, job.ID)
	}
	ticket, err := w.store.TicketByID(ctx, ticketID)
	if err != nil {
		return err
	}
	expected := models.TicketRefundRequested
	if dispute {
		expected = models.TicketWaitingDisputeRefund
	}
	if ticket.TicketState.Status != expected {
		slog.Info("refund job skipped", "ticket_id", ticketID,
			"status", ticket.TicketState.Status, "dispute", dispute)
		return nil
	}
	refund := ticket.TicketState.Refund
	if refund == nil || ticket.InvoiceID == "" {
		return fmt.Errorf("%w: ticket %s has no refundable sale", queue.ErrUnrecoverable, ticketID)
	}

	invoice, err := w.processor.GetInvoice(ctx, ticket.InvoiceID)
	if err != nil {
		return err
	}
	if invoice.Status == payment.InvoicePending {
		// Payments not confirmed yet; come back once they settle.
		return w.queue.Enqueue(ctx, &queue.Job{
			Queue:       job.Queue,
			Type:        job.Type,
			Payload:     job.Payload,
			MaxAttempts: w.config.MaxJobAttempts,
		}, refundRecheckDelay)
	}

	reason := models.TransactionTicketRefund
	if dispute {
		reason = models.TransactionDisputeRefund
	}
	submitted, err := w.submittedRefunds(ctx, ticket.ID, reason)
	if err != nil {
		return err
	}
	for currency, amount := range refund.ApprovedAmounts {
		if amount <= 0 || submitted.Get(currency) >= amount {
			// Nothing approved, or a refund for this currency was
			// already opened by an earlier delivery of this job.
			continue
		}
		payout, err := w.processor.RefundInvoice(ctx, payment.RefundParams{
			InvoiceID: ticket.InvoiceID,
			Amount:    amount,
			Currency:  currency,
		})
		if err != nil {
			return err
		}
		transaction := &models.Transaction{
			TicketID:  ticket.ID,
			CreatorID: ticket.CreatorID,
			AgentID:   ticket.AgentID,
			To:        payout.Destination,
			Reason:    reason,
			Amount:    amount,
			Currency:  currency,
			Rate:      w.refundRate(ticket, currency),
			InvoiceID: ticket.InvoiceID,
			PayoutID:  payout.ID,
			CreatedAt: time.Now(),
		}
		if err := w.store.CreateTransaction(ctx, transaction); err != nil {
			return err
		}
	}
	if dispute {
		// The ticket is already parked waiting for the dispute refund.
		return nil
	}
	return w.queue.Enqueue(ctx, &queue.Job{
		Queue:       machines.QueueTicket,
		Type:        machines.RefundInitiated,
		Payload:     map[string]any{"ticket_id": ticket.ID},
		MaxAttempts: w.config.MaxJobAttempts,
	}, 0)
}

// submittedRefunds sums the refund transactions already recorded for the
// ticket, per currency. The transaction row is written right after the
// processor call, so it doubles as the duplicate-submission guard.
func (w *PayoutWorker) submittedRefunds(ctx context.Context, ticketID string, reason models.TransactionReason) (models.CurrencyTotals, error) {
	transactions, err := w.store.TransactionsByTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	totals := models.CurrencyTotals{}
	for _, transaction := range transactions {
		if transaction.Reason == reason {
			totals.Add(transaction.Currency, transaction.Amount)
		}
	}
	return totals, nil
}

// refundRate freezes the refund conversion at the rate the money came in
// at, taking the most recent payment in that currency.
func (w *PayoutWorker) refundRate(ticket *models.Ticket, currency models.CurrencyType) decimal.Decimal {
	if sale := ticket.TicketState.Sale; sale != nil {
		if payments := sale.Payments[currency]; len(payments) > 0 {
			return payments[len(payments)-1].Rate
		}
	}
	return decimal.NewFromInt(1)
}

// createPayout opens a creator withdrawal at the processor, holds the
// amount on the wallet, and pushes the payout through approval. Transfer
// progress comes back asynchronously as payout update jobs.
func (w *PayoutWorker) createPayout(ctx context.Context, job *queue.Job) error {
	userID := payloadString(job.Payload, "user_id")
	if userID == "" {
		return fmt.Errorf("%w: payout job %s has no user_id", queue.ErrUnrecoverable, job.ID)
	}
	wallet, err := w.store.WalletByUser(ctx, userID)
	if err != nil {
		return err
	}
	if wallet.Status == models.WalletPayoutInProgress {
		// Replay after a crash mid-flight; push any stalled payout along
		// rather than opening a second one.
		for _, held := range wallet.Payouts {
			if held.Status == models.PayoutPending {
				return w.approveAndSend(ctx, held.PayoutID)
			}
		}
		slog.Info("payout job skipped, wallet busy", "user_id", userID)
		return nil
	}

	amount := payloadInt64(job.Payload, "amount")
	destination := payloadString(job.Payload, "destination")
	payout, err := w.processor.CreatePayout(ctx, payment.CreatePayoutParams{
		Amount:      amount,
		Currency:    wallet.Currency,
		Destination: destination,
		StoreID:     w.config.PaymentStoreID,
	})
	if err != nil {
		return err
	}
	machine := machines.NewWalletMachine(wallet, func(updated *models.Wallet, _ bool) error {
		return w.store.UpdateWalletGuarded(ctx, updated, "")
	})
	err = machine.Send(machines.WalletEvent{
		Type: machines.PayoutRequested,
		Payout: &models.Payout{
			PayoutID:    payout.ID,
			Amount:      amount,
			Currency:    wallet.Currency,
			Destination: destination,
			Status:      models.PayoutPending,
			CreatedAt:   time.Now(),
		},
	})
	if err != nil {
		monitoring.TrackTransition("wallet", machines.PayoutRequested, "rejected")
		// The processor payout exists but the hold failed; cancel it so
		// the money cannot leave.
		if cancelErr := w.processor.CancelPayout(ctx, payout.ID); cancelErr != nil {
			slog.Error("cancel orphaned payout failed", "payout_id", payout.ID, "error", cancelErr)
		}
		return err
	}
	monitoring.TrackTransition("wallet", machines.PayoutRequested, "applied")
	return w.approveAndSend(ctx, payout.ID)
}

func (w *PayoutWorker) approveAndSend(ctx context.Context, payoutID string) error {
	if _, err := w.processor.ApprovePayout(ctx, payoutID); err != nil {
		// Approval is not idempotent at the processor; a replay after a
		// successful approve fails here, so only the send result decides.
		slog.Warn("approve payout failed", "payout_id", payoutID, "error", err)
	}
	if _, err := w.processor.SendPayout(ctx, payoutID); err != nil {
		return err
	}
	return nil
}

// payoutUpdate routes an asynchronous processor status change. A payout
// is either a ticket refund, recognized by the transaction recorded when
// it was opened, or a creator withdrawal held on a wallet.
func (w *PayoutWorker) payoutUpdate(ctx context.Context, job *queue.Job) error {
	payoutID := payloadString(job.Payload, "payout_id")
	if payoutID == "" {
		return fmt.Errorf("%w: payout update %s has no payout_id", queue.ErrUnrecoverable, job.ID)
	}
	payoutStatus := payloadString(job.Payload, "status")

	transaction, err := w.store.TransactionByPayout(ctx, payoutID)
	if err == nil && transaction.TicketID != "" {
		return w.refundUpdate(ctx, transaction, payoutStatus)
	}
	if err != nil && !errors.Is(err, status.ErrTransactionNotFound) {
		return err
	}
	return w.walletUpdate(ctx, payoutID, payoutStatus, payloadString(job.Payload, "tx_hash"))
}

func (w *PayoutWorker) refundUpdate(ctx context.Context, transaction *models.Transaction, payoutStatus string) error {
	if payoutStatus != payment.PayoutComplete {
		// Only delivery counts; the sent notification is informational.
		return nil
	}
	return w.queue.Enqueue(ctx, &queue.Job{
		Queue: machines.QueueTicket,
		Type:  machines.RefundReceived,
		Payload: map[string]any{
			"ticket_id":      transaction.TicketID,
			"transaction_id": transaction.ID,
		},
		MaxAttempts: w.config.MaxJobAttempts,
	}, 0)
}

func (w *PayoutWorker) walletUpdate(ctx context.Context, payoutID, payoutStatus, txHash string) error {
	wallet, err := w.store.WalletByPayout(ctx, payoutID)
	if err != nil {
		if errors.Is(err, status.ErrWalletNotFound) {
			slog.Warn("payout update for unknown payout", "payout_id", payoutID)
			return nil
		}
		return err
	}
	machine := machines.NewWalletMachine(wallet, func(updated *models.Wallet, _ bool) error {
		return w.store.UpdateWalletGuarded(ctx, updated, "")
	})

	var event machines.WalletEvent
	switch payoutStatus {
	case payment.PayoutSent:
		held := wallet.FindPayout(payoutID, models.PayoutPending)
		if held == nil {
			slog.Info("payout already sent", "payout_id", payoutID)
			return nil
		}
		transaction := &models.Transaction{
			CreatorID: wallet.UserID,
			To:        held.Destination,
			Hash:      txHash,
			Reason:    models.TransactionCreatorPayout,
			Amount:    held.Amount,
			Currency:  held.Currency,
			Rate:      decimal.NewFromInt(1),
			PayoutID:  payoutID,
			CreatedAt: time.Now(),
		}
		if err := w.store.CreateTransaction(ctx, transaction); err != nil {
			return err
		}
		event = machines.WalletEvent{Type: machines.PayoutSentEvent, Transaction: transaction}
	case payment.PayoutComplete:
		event = machines.WalletEvent{Type: machines.PayoutComplete, PayoutID: payoutID}
	case payment.PayoutFailed, payment.PayoutCancelled:
		event = machines.WalletEvent{
			Type:   machines.PayoutFailed,
			Payout: &models.Payout{PayoutID: payoutID},
		}
	default:
		return nil
	}

	if !machine.Can(event) {
		// Replayed or out-of-order update; the ledger already moved.
		slog.Info("payout update skipped", "payout_id", payoutID, "status", payoutStatus)
		monitoring.TrackTransition("wallet", event.Type, "skipped")
		return nil
	}
	// Past the replay check, a transition failure means the wallet and the
	// processor disagree about money. That fails the job loudly instead of
	// acking a ledger left in an unknown state.
	if err := machine.Send(event); err != nil {
		monitoring.TrackTransition("wallet", event.Type, "rejected")
		return err
	}
	monitoring.TrackTransition("wallet", event.Type, "applied")
	return nil
}
