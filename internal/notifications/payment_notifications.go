package notifications

import (
	"context"
	"time"

	"github.com/9ssi7/exponent"
	"go.uber.org/zap"

	"cartjo/internal/checkout"
	"cartjo/internal/domain/pushtokens"
	"cartjo/internal/mailer"
)

// PaymentNotifier fans out terminal payment results over push and email.
// It implements checkout.Notifier and is always called off the request path,
// so every failure here is logged and swallowed.
type PaymentNotifier struct {
	push   PushSender
	tokens pushtokens.Store
	mail   mailer.Client
	logger *zap.SugaredLogger
}

func NewPaymentNotifier(push PushSender, tokens pushtokens.Store, mail mailer.Client, logger *zap.SugaredLogger) *PaymentNotifier {
	return &PaymentNotifier{
		push:   push,
		tokens: tokens,
		mail:   mail,
		logger: logger,
	}
}

func (n *PaymentNotifier) PaymentResult(ctx context.Context, snap checkout.Snapshot, succeeded bool) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	n.sendPush(ctx, snap, succeeded)
	n.sendEmail(snap, succeeded)
}

func (n *PaymentNotifier) sendPush(ctx context.Context, snap checkout.Snapshot, succeeded bool) {
	if n.push == nil || n.tokens == nil {
		return
	}

	tokensMap, err := n.tokens.GetTokensByCustomerIDs(ctx, []int64{snap.CustomerID})
	if err != nil {
		n.logger.Errorw("fetch push tokens", "ref", snap.Ref, "error", err)
		return
	}
	tokens := dedupe(tokensMap[snap.CustomerID])
	if len(tokens) == 0 {
		return
	}

	title := "Payment successful"
	body := "Your payment of " + snap.Amount.StringFixed(2) + " " + snap.Currency + " went through."
	if !succeeded {
		title = "Payment failed"
		body = "Your payment could not be completed. No money was taken."
	}

	msgs := make([]*exponent.Message, 0, len(tokens))
	for _, t := range tokens {
		token := exponent.Token(t)
		msg := &exponent.Message{
			To:    []*exponent.Token{&token},
			Title: title,
			Body:  body,
			Data: map[string]string{
				"type":   "payment_result",
				"ref":    snap.Ref,
				"screen": "payments/" + snap.Ref,
			},
		}
		msgs = append(msgs, msg)
	}

	responses, err := n.push.Publish(ctx, msgs)
	if err != nil {
		n.logger.Errorw("publish push notifications", "ref", snap.Ref, "error", err)
		return
	}

	// Expo flags dead device tokens in per-message responses; drop them so
	// we stop sending to uninstalled apps.
	var dead []string
	for i, resp := range responses {
		if resp != nil && resp.Status != "ok" && i < len(tokens) {
			dead = append(dead, tokens[i])
		}
	}
	if len(dead) > 0 {
		if err := n.tokens.RemoveByTokenList(ctx, dead); err != nil {
			n.logger.Errorw("prune dead push tokens", "count", len(dead), "error", err)
		}
	}
}

func (n *PaymentNotifier) sendEmail(snap checkout.Snapshot, succeeded bool) {
	if n.mail == nil || snap.CustomerEmail == "" {
		return
	}

	tmpl := mailer.PaymentReceiptTemplate
	if !succeeded {
		tmpl = mailer.PaymentFailedTemplate
	}

	data := map[string]string{
		"Name":     snap.CustomerEmail,
		"Ref":      snap.Ref,
		"OrderID":  snap.OrderID,
		"Amount":   snap.Amount.StringFixed(2),
		"Currency": snap.Currency,
	}

	attempts, err := n.mail.Send(tmpl, snap.CustomerEmail, snap.CustomerEmail, data)
	if err != nil {
		n.logger.Errorw("send result email", "ref", snap.Ref, "attempts", attempts, "error", err)
		return
	}
	n.logger.Infow("result email sent", "ref", snap.Ref, "attempts", attempts)
}

func dedupe(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
