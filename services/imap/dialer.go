package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/oneinbox/mailsync/interfaces"
	"github.com/oneinbox/mailsync/internal/logger"
	"github.com/oneinbox/mailsync/internal/models"
	"github.com/oneinbox/mailsync/internal/tracing"
)

const (
	dialTimeout    = 30 * time.Second
	commandTimeout = 30 * time.Second
)

type dialer struct {
	log logger.Logger
}

// NewDialer opens authenticated IMAP sessions for accounts.
func NewDialer(log logger.Logger) interfaces.SessionDialer {
	return &dialer{log: log}
}

// Dial connects to the account's IMAP server, verifies capabilities and
// logs in. The returned session owns the connection; callers must
// Logout when done with it.
func (d *dialer) Dial(ctx context.Context, account *models.Account) (interfaces.MailSession, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "dialer.Dial")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)
	span.SetTag("server", account.ImapServer)
	span.SetTag("port", account.ImapPort)
	span.SetTag("tls", account.ImapTLS)

	serverAddr := fmt.Sprintf("%s:%d", account.ImapServer, account.ImapPort)

	netDialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}

	var c *client.Client
	var err error
	if account.ImapTLS {
		tlsConfig := &tls.Config{
			ServerName: account.ImapServer,
		}
		c, err = client.DialWithDialerTLS(netDialer, serverAddr, tlsConfig)
	} else {
		c, err = client.DialWithDialer(netDialer, serverAddr)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "failed to connect to %s", serverAddr)
	}

	caps, err := c.Capability()
	if err != nil {
		c.Logout()
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to get capabilities")
	}
	span.SetTag("idle_supported", caps["IDLE"])

	c.Timeout = commandTimeout
	if err := c.Login(account.ImapUsername, account.ImapPassword); err != nil {
		c.Logout()
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "failed to login as %s", account.ImapUsername)
	}
	// IDLE holds the connection open far longer than any command
	// timeout allows.
	c.Timeout = 0

	d.log.Infof("connected to %s for account %s", serverAddr, account.ID)

	return newSession(c, account, d.log), nil
}
