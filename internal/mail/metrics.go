package mail

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// mailSent counts send attempts by transport and result (ok, reply_to, error).
var mailSent = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "formrelay_mail_sent_total",
		Help: "Outbound email send attempts by transport and result.",
	},
	[]string{"transport", "result"},
)

func init() {
	prometheus.MustRegister(mailSent)
}

type instrumented struct {
	next      Sender
	transport string
}

// Instrument wraps s so every Send is counted.
func Instrument(s Sender, transport string) Sender {
	if transport == "" {
		transport = "log"
	}
	return &instrumented{next: s, transport: transport}
}

func (i *instrumented) Send(ctx context.Context, msg Message) error {
	err := i.next.Send(ctx, msg)
	result := "ok"
	switch {
	case errors.Is(err, ErrInvalidReplyTo):
		result = "reply_to"
	case err != nil:
		result = "error"
	}
	mailSent.WithLabelValues(i.transport, result).Inc()
	return err
}
