package mitigation

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pkg-warden/warden/pkg/config"
	"github.com/pkg-warden/warden/pkg/logger"
)

// Mailer delivers one notification message. Implemented by MailCommand.
type Mailer interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// MailCommand sends mail through the system mail(1) binary, one process per
// recipient, with the message body on stdin.
type MailCommand struct {
	binary string
}

func NewMailCommand() *MailCommand {
	return &MailCommand{binary: "mail"}
}

func (mc *MailCommand) Send(ctx context.Context, recipient, subject, body string) error {
	cmd := exec.CommandContext(ctx, mc.binary, "-s", subject, recipient)
	cmd.Stdin = strings.NewReader(body)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("sending mail to %s: %w: %s", recipient, err, bytes.TrimSpace(output))
	}
	return nil
}

// NewAuditLogger opens the mitigation audit log configured for the notify
// channel. Disabled logging yields a no-op logger, so callers can write to
// it unconditionally.
func NewAuditLogger(cfg config.LogChannelConfig) (zerolog.Logger, error) {
	if !cfg.Enabled {
		return zerolog.Nop(), nil
	}
	audit, err := logger.NewFileLogger(cfg.Path)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("opening mitigation log: %w", err)
	}
	return audit, nil
}

// Notifier is the notify action: a structured warning to the audit log plus
// one email per configured recipient. Channels fire independently; a failed
// channel flips the outcome to failure without undoing channels that
// already fired, and one unreachable recipient does not stop the rest.
type Notifier struct {
	cfg    config.NotificationConfig
	audit  zerolog.Logger
	mailer Mailer
	log    zerolog.Logger
	now    func() time.Time
}

func NewNotifier(cfg config.NotificationConfig, audit zerolog.Logger, mailer Mailer, base zerolog.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		audit:  audit,
		mailer: mailer,
		log:    base.With().Str("component", "notifier").Logger(),
		now:    time.Now,
	}
}

func (n *Notifier) Kind() ActionKind { return ActionNotify }

func (n *Notifier) Execute(ctx context.Context, target Target) Outcome {
	ok := true
	var failures []string

	if n.cfg.Logging.Enabled {
		n.audit.Warn().
			Str("package", target.Package).
			Float64("anomaly_score", target.Score).
			Msg("Threat detected in package")
	}

	if n.cfg.Email.Enabled {
		subject := fmt.Sprintf("Security Alert: Threat Detected in %s", target.Package)
		body := fmt.Sprintf(
			"A potential security threat was detected:\n\nPackage: %s\nAnomaly Score: %.3f\nDetection Time: %s\n",
			target.Package, target.Score, n.now().Format(time.RFC3339),
		)
		for _, recipient := range n.cfg.Email.Recipients {
			if err := n.mailer.Send(ctx, recipient, subject, body); err != nil {
				n.log.Error().Err(err).Str("recipient", recipient).Msg("Failed to send email notification")
				failures = append(failures, fmt.Sprintf("email to %s: %v", recipient, err))
				ok = false
			}
		}
	}

	if !ok {
		return Outcome{Reason: strings.Join(failures, "; ")}
	}
	return Outcome{OK: true, Reason: "notifications dispatched"}
}
