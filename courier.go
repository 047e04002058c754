// Package courier transfers mail over SMTP in both directions.
//
// # Server
//
// A Server listens on every configured address and port and runs all of its
// sessions from one reactor loop. Each received message is checked against
// DNS blocklists, DKIM, SPF and the sender's DMARC policy before it is
// handed to the OnEmailReceived callback:
//
//	server, err := courier.New("mx.example.com").
//	    Ports(25).
//	    TLS(tlsConfig).
//	    Blocklists("zen.spamhaus.org").
//	    OnEmailReceived(func(ctx context.Context, s *courier.Session, msg *mail.Message, v auth.Verdict) error {
//	        return spool(msg, v)
//	    }).
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := server.Serve(ctx); err != courier.ErrServerClosed {
//	    log.Fatal(err)
//	}
//
// Accepted messages carry an X-Authenticity header with the DKIM and SPF
// results, followed by the DMARC policy, blocklist result and pass count.
//
// # Client
//
// Deliver resolves the MX hosts of every recipient domain and runs the
// whole exchange:
//
//	msg, _ := mail.NewBuilder().
//	    From("alice@example.com").
//	    To("bob@example.org").
//	    Subject("Hello").
//	    Text("Hi Bob").
//	    Build()
//	status := courier.Deliver(ctx, msg, courier.DefaultClientConfig(), resolver)
//
// The steps are also available one by one on Client. Each takes a
// continuation and a transport.FailHandler:
//
//	c, err := courier.Dial(ctx, "mx.example.org:25", config)
//	c.Handshake(func() {
//	    c.SendEmail("alice@example.com", []string{"bob@example.org"}, msg, done, onFail)
//	}, onFail)
//
// On a connection without a reactor every step runs inline, so the calls
// above return once the exchange has finished.
package courier
