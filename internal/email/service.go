package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"funnel-server/internal/clients/mail"
	"funnel-server/internal/observability"
)

var (
	ErrSendingEmail  = errors.New("error sending email")
	ErrEmptyTemplate = errors.New("email template is empty")
)

// EmailService handles sending transactional emails. Campaign-style email
// (nurture sequences, abandoned-checkout nudges) lives in the CRM; only
// credential and confirmation mail goes out from here.
type EmailService struct {
	mailClient    *mail.ResendClient
	logger        *observability.Logger
	defaultSender string
	templates     map[string]string
}

// TemplateData represents the data that can be used in templates
type TemplateData struct {
	FirstName          string
	Email              string
	ProductName        string
	Password           string
	LoginURL           string
	SupportExpiresAt   string
	MentorshipIncluded bool
}

// New creates a new EmailService
func New(mailClient *mail.ResendClient, defaultSender string, logger *observability.Logger) *EmailService {
	return &EmailService{
		mailClient:    mailClient,
		logger:        logger,
		defaultSender: defaultSender,
		templates: map[string]string{
			"purchase_confirmation": `
			<html>
				<body>
					<h1>Bem-vindo, {{.FirstName}}!</h1>
					<p>Seu acesso ao <strong>{{.ProductName}}</strong> está liberado.</p>
					<p>Entre na área de membros com os dados abaixo:</p>
					<p>Email: {{.Email}}<br>Senha: <strong>{{.Password}}</strong></p>
					{{if .LoginURL}}<p><a href="{{.LoginURL}}" style="background-color: #F7931A; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; display: inline-block;">Acessar a área de membros</a></p>{{end}}
					{{if .SupportExpiresAt}}<p>Seu suporte direto vale até <strong>{{.SupportExpiresAt}}</strong>.</p>{{end}}
					{{if .MentorshipIncluded}}<p>Sua vaga na mentoria está garantida. O convite da primeira sessão chega neste email.</p>{{end}}
					<p>Guarde este email. Qualquer dúvida, é só responder.</p>
				</body>
			</html>
			`,
			"credentials_updated": `
			<html>
				<body>
					<h1>Nova senha gerada</h1>
					<p>Olá, {{.FirstName}}!</p>
					<p>Sua senha de acesso à área de membros foi atualizada.</p>
					<p>Nova senha: <strong>{{.Password}}</strong></p>
					{{if .LoginURL}}<p><a href="{{.LoginURL}}">Acessar a área de membros</a></p>{{end}}
					<p>Se você não pediu esta alteração, responda este email imediatamente.</p>
				</body>
			</html>
			`,
			"verification_received": `
			<html>
				<body>
					<h1>Comprovante recebido</h1>
					<p>Olá, {{.FirstName}}!</p>
					<p>Recebemos seu comprovante de pagamento e ele já está na fila de aprovação.</p>
					<p>Assim que a compra for confirmada, seus dados de acesso chegam neste email.</p>
				</body>
			</html>
			`,
		},
	}
}

// renderTemplate renders a template with the provided data
func (s *EmailService) renderTemplate(templateName string, data TemplateData) (string, error) {
	tmplStr, ok := s.templates[templateName]
	if !ok {
		return "", fmt.Errorf("template %s not found", templateName)
	}

	tmpl, err := template.New(templateName).Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// PurchaseConfirmationParams carries everything the access email shows.
type PurchaseConfirmationParams struct {
	To                 string
	Name               string
	ProductName        string
	Password           string
	LoginURL           string
	SupportExpiresAt   *time.Time
	MentorshipIncluded bool
}

// SendPurchaseConfirmation delivers the members-area credentials after a
// confirmed purchase.
func (s *EmailService) SendPurchaseConfirmation(ctx context.Context, params PurchaseConfirmationParams) error {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "email_type", Value: "purchase_confirmation"},
		observability.Field{Key: "recipient", Value: params.To},
	)

	subject := fmt.Sprintf("Seus dados de acesso - %s", params.ProductName)

	data := TemplateData{
		FirstName:          firstName(params.Name),
		Email:              params.To,
		ProductName:        params.ProductName,
		Password:           params.Password,
		LoginURL:           params.LoginURL,
		MentorshipIncluded: params.MentorshipIncluded,
	}
	if params.SupportExpiresAt != nil {
		data.SupportExpiresAt = params.SupportExpiresAt.Format("02/01/2006")
	}

	htmlContent, err := s.renderTemplate("purchase_confirmation", data)
	if err != nil {
		s.logger.Error(ctx, "failed to render purchase confirmation template", err)
		return fmt.Errorf("%w: %s", ErrEmptyTemplate, err.Error())
	}

	_, err = s.mailClient.SendEmail(ctx, s.defaultSender, params.To, subject, htmlContent)
	if err != nil {
		s.logger.Error(ctx, "failed to send purchase confirmation email", err)
		return fmt.Errorf("%w: %s", ErrSendingEmail, err.Error())
	}

	return nil
}

// CredentialsUpdatedParams carries the regenerated password email content.
type CredentialsUpdatedParams struct {
	To       string
	Name     string
	Password string
	LoginURL string
}

// SendCredentialsUpdated notifies a customer that an operator regenerated
// their members-area password.
func (s *EmailService) SendCredentialsUpdated(ctx context.Context, params CredentialsUpdatedParams) error {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "email_type", Value: "credentials_updated"},
		observability.Field{Key: "recipient", Value: params.To},
	)

	subject := "Sua nova senha de acesso"

	data := TemplateData{
		FirstName: firstName(params.Name),
		Email:     params.To,
		Password:  params.Password,
		LoginURL:  params.LoginURL,
	}

	htmlContent, err := s.renderTemplate("credentials_updated", data)
	if err != nil {
		s.logger.Error(ctx, "failed to render credentials updated template", err)
		return fmt.Errorf("%w: %s", ErrEmptyTemplate, err.Error())
	}

	_, err = s.mailClient.SendEmail(ctx, s.defaultSender, params.To, subject, htmlContent)
	if err != nil {
		s.logger.Error(ctx, "failed to send credentials updated email", err)
		return fmt.Errorf("%w: %s", ErrSendingEmail, err.Error())
	}

	return nil
}

// SendVerificationReceived acknowledges a manual payment proof so the buyer
// knows the purchase is waiting on review, not lost.
func (s *EmailService) SendVerificationReceived(ctx context.Context, to, name string) error {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "email_type", Value: "verification_received"},
		observability.Field{Key: "recipient", Value: to},
	)

	subject := "Recebemos seu comprovante"

	data := TemplateData{
		FirstName: firstName(name),
		Email:     to,
	}

	htmlContent, err := s.renderTemplate("verification_received", data)
	if err != nil {
		s.logger.Error(ctx, "failed to render verification received template", err)
		return fmt.Errorf("%w: %s", ErrEmptyTemplate, err.Error())
	}

	_, err = s.mailClient.SendEmail(ctx, s.defaultSender, to, subject, htmlContent)
	if err != nil {
		s.logger.Error(ctx, "failed to send verification received email", err)
		return fmt.Errorf("%w: %s", ErrSendingEmail, err.Error())
	}

	return nil
}

// SendEmail sends a generic email with custom content
func (s *EmailService) SendEmail(ctx context.Context, to, subject, htmlContent string) error {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "email_type", Value: "custom"},
		observability.Field{Key: "recipient", Value: to},
	)

	if htmlContent == "" {
		return ErrEmptyTemplate
	}

	_, err := s.mailClient.SendEmail(ctx, s.defaultSender, to, subject, htmlContent)
	if err != nil {
		s.logger.Error(ctx, "failed to send email", err)
		return fmt.Errorf("%w: %s", ErrSendingEmail, err.Error())
	}

	return nil
}

// firstName trims a full name down to the greeting form. Falls back to the
// whole string when it has no spaces.
func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return name
	}
	return fields[0]
}
