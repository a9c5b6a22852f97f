// Package notify mails a summary of a finished run.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"triagem/lib/ledger"
	"triagem/lib/timezone"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/notify")

type SmtpConfig struct {
	Server       string   `json:"server"`
	Port         int      `json:"port"`
	EmailAddress string   `json:"email_address"`
	Password     string   `json:"password"`
	To           []string `json:"to"`
}

func (c SmtpConfig) Enabled() bool {
	return c.Server != "" && len(c.To) > 0
}

type Mailer struct {
	config SmtpConfig
}

func NewMailer(config SmtpConfig) Mailer {
	return Mailer{config: config}
}

// Subject is the mail subject of a run.
func Subject(run ledger.Run) string {
	status := "concluída"
	if run.Cancelled {
		status = "cancelada"
	}
	return fmt.Sprintf(
		"Triagem %s %s: %d índice(s), %d com falha",
		run.ID, status, len(run.Indices), run.Failed(),
	)
}

// Body renders one line per index with its status and result directory.
func Body(run ledger.Run) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Protocolo", "Índice", "Situação", "Fontes sem dados", "Pasta"})
	for _, index := range run.Indices {
		var missing []string
		for _, s := range index.Sources {
			if !s.Found {
				missing = append(missing, s.Source)
			}
		}
		tw.AppendRow(table.Row{
			index.Protocol,
			index.Index,
			string(index.Status),
			strings.Join(missing, ", "),
			index.Dir,
		})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Execução %s\n", run.ID)
	fmt.Fprintf(&b, "Início: %s\n", timezone.ReportDate(run.StartedAt))
	fmt.Fprintf(&b, "Fim: %s\n", timezone.ReportDate(run.FinishedAt))
	if run.Cancelled {
		b.WriteString("A execução foi cancelada antes de processar todos os índices.\n")
	}
	b.WriteString("\n")
	b.WriteString(tw.Render())
	b.WriteString("\n")
	return b.String()
}

func (m Mailer) NotifyRun(ctx context.Context, run ledger.Run) error {
	ctx, span := tracer.Start(ctx, "NotifyRun")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", run.ID))

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Triagem <%s>", m.config.EmailAddress)
	mail.To = m.config.To
	mail.Subject = Subject(run)
	mail.Text = []byte(Body(run))

	addr := fmt.Sprintf("%s:%d", m.config.Server, m.config.Port)
	err := mail.Send(
		addr,
		smtp.PlainAuth("", m.config.EmailAddress, m.config.Password, m.config.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return fmt.Errorf("notify run %s: %w", run.ID, err)
	}
	return nil
}
