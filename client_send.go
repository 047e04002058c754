package courier

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/synqronlabs/courier/dns"
	"github.com/synqronlabs/courier/mail"
	"github.com/synqronlabs/courier/transport"
)

// DeliveryStatus is the outcome of Deliver.
type DeliveryStatus int

// Statuses are ordered from best to worst.
const (
	DeliveryOK DeliveryStatus = iota
	DeliveryTempFail
	DeliveryPermFail
)

func (s DeliveryStatus) String() string {
	switch s {
	case DeliveryOK:
		return "ok"
	case DeliveryTempFail:
		return "temp_failure"
	default:
		return "perm_failure"
	}
}

// classify maps a client failure to a delivery status: rate limiting and
// 4yz replies are temporary, everything else is permanent.
func classify(f transport.Fail) DeliveryStatus {
	switch {
	case f.Kind == transport.FailRateLimited:
		return DeliveryTempFail
	case f.Kind == transport.FailUnexpectedResponse && replyCode(f.Detail).IsTransient():
		return DeliveryTempFail
	}
	return DeliveryPermFail
}

// replyCode extracts the code from a "<code> <text>" fail detail.
func replyCode(detail string) SMTPCode {
	code, _ := strconv.Atoi(detail[:min(3, len(detail))])
	return SMTPCode(code)
}

// Deliver sends msg to every address in its To header. Recipients are
// grouped by domain; for each domain the MX targets are tried in order
// until one accepts the connection, and the message is sent to that one.
// The message is DKIM signed first when config.DKIM is set. With several
// domains the worst status is returned.
func Deliver(ctx context.Context, msg *mail.Message, config ClientConfig, resolver dns.Resolver) DeliveryStatus {
	config = config.withDefaults()
	logger := config.Logger

	from, err := msg.From()
	if err != nil {
		logger.Error("message has no valid sender", slog.Any("error", err))
		return DeliveryPermFail
	}
	to, err := msg.To()
	if err != nil || len(to) == 0 {
		logger.Error("message has no valid recipient", slog.Any("error", err))
		return DeliveryPermFail
	}

	if config.DKIM != nil {
		msg = msg.Clone()
		if err := config.DKIM.SignMessage(msg, config.Width); err != nil {
			logger.Error("DKIM signing failed", slog.Any("error", err))
			return DeliveryPermFail
		}
	}

	worst := DeliveryOK
	for _, group := range groupByDomain(to) {
		status := deliverDomain(ctx, msg, from.Mailbox, group, config, resolver)
		config.Metrics.DeliveryCompleted(group[0].Domain(), status.String())
		logger.Info("delivery finished",
			slog.String("domain", group[0].Domain()),
			slog.Int("recipients", len(group)),
			slog.String("status", status.String()),
		)
		worst = max(worst, status)
	}
	return worst
}

func groupByDomain(addrs []mail.Address) [][]mail.Address {
	var groups [][]mail.Address
	index := make(map[string]int)
	for _, a := range addrs {
		domain := strings.ToLower(a.Domain())
		i, ok := index[domain]
		if !ok {
			i = len(groups)
			index[domain] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], a)
	}
	return groups
}

func deliverDomain(ctx context.Context, msg *mail.Message, from string, rcpts []mail.Address, config ClientConfig, resolver dns.Resolver) DeliveryStatus {
	targets, err := rcpts[0].Targets(ctx, resolver)
	if err != nil {
		config.Logger.Warn("resolving delivery targets failed",
			slog.String("domain", rcpts[0].Domain()),
			slog.Any("error", err),
		)
		return DeliveryPermFail
	}

	client, err := dialFirst(ctx, targets, config)
	if err != nil {
		config.Logger.Warn("no delivery target reachable",
			slog.String("domain", rcpts[0].Domain()),
			slog.Any("error", err),
		)
		return DeliveryPermFail
	}
	defer client.Close()

	mailboxes := make([]string, len(rcpts))
	for i, a := range rcpts {
		mailboxes[i] = a.Mailbox
	}

	status := DeliveryPermFail
	onFail := func(_ *transport.Conn, f transport.Fail) {
		_ = client.Close()
		status = classify(f)
		config.Logger.Warn("delivery failed",
			slog.String("remote", client.conn.Remote()),
			slog.String("failure", f.Error()),
		)
	}
	client.Handshake(func() {
		client.SendEmail(from, mailboxes, msg, func() {
			_ = client.Close()
			status = DeliveryOK
		}, onFail)
	}, onFail)
	return status
}

// dialFirst connects to the targets one at a time, in order, and returns
// the first that greets with 220.
func dialFirst(ctx context.Context, targets []string, config ClientConfig) (*Client, error) {
	var errs []error
	for _, host := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		addr := net.JoinHostPort(host, strconv.Itoa(config.Port))
		client, err := Dial(ctx, addr, config)
		if err == nil {
			return client, nil
		}
		config.Logger.Debug("delivery target failed", slog.String("target", addr), slog.Any("error", err))
		errs = append(errs, err)
	}
	return nil, errors.Join(append([]error{ErrNoReachableTarget}, errs...)...)
}
