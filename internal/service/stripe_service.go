package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quotaledger/internal/config"
	"quotaledger/internal/metrics"
	"quotaledger/internal/model"
	"quotaledger/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	billingsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

var (
	// ErrInvalidSignature is returned for webhook deliveries that fail signature checks.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrInvalidPayload is returned when a signed event cannot be decoded.
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

// StripeVerifier confirms checkout sessions against the Stripe API.
type StripeVerifier struct {
	getSession func(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewStripeVerifier sets the Stripe key and returns a PaymentVerifier backed by the API.
func NewStripeVerifier(secretKey string) *StripeVerifier {
	stripe.Key = secretKey
	return &StripeVerifier{getSession: checkoutsession.Get}
}

func (v *StripeVerifier) VerifyCheckoutSession(ctx context.Context, sessionRef string) (*PaymentConfirmation, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("subscription")
	cs, err := v.getSession(sessionRef, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("retrieve checkout session %s: %w", sessionRef, err)
	}
	return confirmationFromSession(cs), nil
}

func confirmationFromSession(cs *stripe.CheckoutSession) *PaymentConfirmation {
	conf := &PaymentConfirmation{
		SessionRef:  cs.ID,
		UserID:      cs.Metadata["user_id"],
		Paid:        cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal: cs.AmountTotal,
		Currency:    string(cs.Currency),
	}
	if conf.UserID == "" {
		conf.UserID = cs.ClientReferenceID
	}
	if cs.Customer != nil {
		conf.CustomerID = cs.Customer.ID
	}
	if cs.Subscription != nil {
		conf.SubscriptionID = cs.Subscription.ID
		conf.PeriodEnd = subscriptionPeriodEnd(cs.Subscription)
	}
	return conf
}

func subscriptionPeriodEnd(sub *stripe.Subscription) *time.Time {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].CurrentPeriodEnd == 0 {
		return nil
	}
	t := time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0).UTC()
	return &t
}

// StripeService manages checkout, the billing portal and webhook deliveries.
type StripeService struct {
	cfg      *config.Config
	accounts repository.AccountRepository
	events   repository.PaymentEventRepository
	plans    PlanService
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	newCheckout func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	newPortal   func(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
}

// NewStripeService initializes Stripe key and returns service with a scoped logger
func NewStripeService(cfg *config.Config, accounts repository.AccountRepository, events repository.PaymentEventRepository, plans PlanService, m *metrics.Metrics, logger zerolog.Logger) *StripeService {
	stripe.Key = cfg.StripeSecretKey
	return &StripeService{
		cfg:         cfg,
		accounts:    accounts,
		events:      events,
		plans:       plans,
		metrics:     m,
		logger:      logger.With().Str("service", "StripeService").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
		newCheckout: checkoutsession.New,
		newPortal:   billingsession.New,
	}
}

// CheckoutSession is what the client needs to redirect to Stripe.
type CheckoutSession struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// CreateCheckoutSession starts a subscription checkout tagged with the user's id.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, userID string) (*CheckoutSession, error) {
	u, err := s.accounts.GetAccount(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch account for checkout session")
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	if s.cfg.StripePriceMonthly == "" {
		return nil, errors.New("stripe price is not configured")
	}
	params := &stripe.CheckoutSessionParams{
		LineItems:         []*stripe.CheckoutSessionLineItemParams{{Price: stripe.String(s.cfg.StripePriceMonthly), Quantity: stripe.Int64(1)}},
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(s.cfg.StripeReturnURL + "?status=success&session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(s.cfg.StripeReturnURL + "?status=cancel"),
		ClientReferenceID: stripe.String(userID),
		Metadata:          map[string]string{"user_id": userID},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": userID},
		},
	}
	params.Context = ctx
	if u.Subscription != nil && u.Subscription.ExternalCustomerID != "" {
		params.Customer = stripe.String(u.Subscription.ExternalCustomerID)
	} else if u.Email != "" {
		params.CustomerEmail = stripe.String(u.Email)
	}
	sess, err := s.newCheckout(params)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create Stripe checkout session")
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{SessionID: sess.ID, URL: sess.URL}, nil
}

// CreatePortalSession creates a Stripe Customer Portal session
func (s *StripeService) CreatePortalSession(ctx context.Context, userID string) (string, error) {
	u, err := s.accounts.GetAccount(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch account for portal session")
		return "", fmt.Errorf("fetch account: %w", err)
	}
	if u == nil {
		return "", ErrUserNotFound
	}
	if u.Subscription == nil || u.Subscription.ExternalCustomerID == "" {
		return "", fmt.Errorf("no stripe customer for user %s: %w", userID, ErrInvalidInput)
	}
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(u.Subscription.ExternalCustomerID),
		ReturnURL: stripe.String(s.cfg.StripeReturnURL),
	}
	params.Context = ctx
	sess, err := s.newPortal(params)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create Stripe billing portal session")
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

// HandleWebhook verifies and applies one Stripe delivery. Deliveries already processed are
// acknowledged without side effects. A returned error other than ErrInvalidSignature or
// ErrInvalidPayload means Stripe should redeliver.
func (s *StripeService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.StripeWebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Signature verification failed for Stripe webhook")
		s.metrics.RecordWebhookEvent("unknown", "bad_signature")
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	eventType := string(event.Type)
	log := s.logger.With().Str("event_id", event.ID).Str("event_type", eventType).Logger()
	log.Info().Msg("Stripe webhook received")

	fresh, err := s.events.SavePaymentEvent(ctx, &model.PaymentEvent{
		EventID:    event.ID,
		EventType:  eventType,
		Payload:    payload,
		ReceivedAt: s.now(),
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to log Stripe event")
		s.metrics.RecordWebhookEvent(eventType, "error")
		return err
	}
	if !fresh {
		log.Info().Msg("Stripe event already processed")
		s.metrics.RecordWebhookEvent(eventType, "duplicate")
		return nil
	}

	procErr := s.dispatch(ctx, log, event)
	if errors.Is(procErr, ErrUserNotFound) {
		procErr = &RejectedError{Reason: RejectAccountNotFound, Err: procErr}
	}
	if markErr := s.events.MarkPaymentEventProcessed(context.WithoutCancel(ctx), event.ID, procErr, s.now()); markErr != nil {
		log.Error().Err(markErr).Msg("Failed to mark Stripe event processed")
	}
	if procErr != nil {
		if errors.Is(procErr, ErrInvalidPayload) {
			s.metrics.RecordWebhookEvent(eventType, "invalid")
			return procErr
		}
		if re, ok := AsRejected(procErr); ok && !re.Retryable() {
			log.Warn().Err(procErr).Msg("Stripe event rejected permanently")
			s.metrics.RecordWebhookEvent(eventType, "rejected")
			return nil
		}
		log.Error().Err(procErr).Msg("Failed to process Stripe event")
		s.metrics.RecordWebhookEvent(eventType, "error")
		return procErr
	}
	s.metrics.RecordWebhookEvent(eventType, "processed")
	return nil
}

func (s *StripeService) dispatch(ctx context.Context, log zerolog.Logger, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return fmt.Errorf("%w: checkout.session: %v", ErrInvalidPayload, err)
		}
		if cs.Mode != "" && cs.Mode != stripe.CheckoutSessionModeSubscription {
			log.Info().Str("mode", string(cs.Mode)).Msg("Ignoring non-subscription checkout")
			return nil
		}
		userID := cs.Metadata["user_id"]
		if userID == "" {
			userID = cs.ClientReferenceID
		}
		if userID == "" {
			return &RejectedError{Reason: RejectAccountNotFound, Err: errors.New("checkout session has no user reference")}
		}
		res, err := s.plans.Upgrade(ctx, userID, cs.ID)
		if err != nil {
			if re, ok := AsRejected(err); ok && re.Reason == RejectPaymentUnverified {
				// Delayed payment methods complete later with async_payment_succeeded.
				log.Info().Str("user_id", userID).Msg("Checkout completed without payment yet")
				return nil
			}
			return err
		}
		log.Info().Str("user_id", userID).Str("outcome", string(res.Outcome)).Msg("Applied checkout session")
		return nil

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("%w: invoice: %v", ErrInvalidPayload, err)
		}
		subID, periodEnd := invoiceSubscription(&inv)
		// One-time invoices carry no subscription.
		if subID == "" {
			log.Info().Str("invoice_id", inv.ID).Msg("Invoice has no subscription, skipping")
			return nil
		}
		userID, err := s.resolveUser(ctx, inv.Metadata, inv.Customer)
		if err != nil {
			return err
		}
		status := model.SubscriptionActive
		if event.Type == "invoice.payment_failed" {
			status = model.SubscriptionPastDue
			periodEnd = nil
		}
		return s.plans.UpdateSubscriptionState(ctx, userID, status, periodEnd)

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("%w: subscription: %v", ErrInvalidPayload, err)
		}
		userID, err := s.resolveUser(ctx, sub.Metadata, sub.Customer)
		if err != nil {
			return err
		}
		if event.Type == "customer.subscription.deleted" {
			_, err := s.plans.Downgrade(ctx, userID, model.SubscriptionCanceled)
			return err
		}
		switch sub.Status {
		case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
			_, err := s.plans.Downgrade(ctx, userID, model.SubscriptionCanceled)
			return err
		case stripe.SubscriptionStatusPastDue:
			return s.plans.UpdateSubscriptionState(ctx, userID, model.SubscriptionPastDue, subscriptionPeriodEnd(&sub))
		default:
			return s.plans.UpdateSubscriptionState(ctx, userID, model.SubscriptionActive, subscriptionPeriodEnd(&sub))
		}

	default:
		log.Debug().Msg("Unhandled Stripe webhook event")
		return nil
	}
}

func invoiceSubscription(inv *stripe.Invoice) (string, *time.Time) {
	if inv.Lines == nil {
		return "", nil
	}
	for _, line := range inv.Lines.Data {
		if line == nil || line.Subscription == nil || line.Subscription.ID == "" {
			continue
		}
		var end *time.Time
		if line.Period != nil && line.Period.End > 0 {
			t := time.Unix(line.Period.End, 0).UTC()
			end = &t
		}
		return line.Subscription.ID, end
	}
	return "", nil
}

// resolveUser reads the user id from event metadata, falling back to the customer link.
func (s *StripeService) resolveUser(ctx context.Context, metadata map[string]string, customer *stripe.Customer) (string, error) {
	if id := metadata["user_id"]; id != "" {
		return id, nil
	}
	if customer == nil || customer.ID == "" {
		return "", &RejectedError{Reason: RejectAccountNotFound, Err: errors.New("missing user metadata and customer id")}
	}
	s.logger.Warn().Str("stripe_customer_id", customer.ID).Msg("Missing user_id metadata; looking up account by customer ID")
	u, err := s.accounts.GetAccountByCustomerID(ctx, customer.ID)
	if err != nil {
		return "", fmt.Errorf("lookup account by customer %s: %w", customer.ID, err)
	}
	if u == nil {
		return "", &RejectedError{Reason: RejectAccountNotFound, Err: fmt.Errorf("no account for customer %s", customer.ID)}
	}
	return u.ID, nil
}
