package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnel-server/internal/observability"
)

func newTestService() *EmailService {
	return New(nil, "Renato <contato@renato38.com.br>", observability.NewLogger())
}

func TestRenderPurchaseConfirmation(t *testing.T) {
	service := newTestService()

	html, err := service.renderTemplate("purchase_confirmation", TemplateData{
		FirstName:          "Maria",
		Email:              "maria@example.com",
		ProductName:        "Curso de Bitcoin",
		Password:           "casa-mesa-cafe-2025",
		LoginURL:           "https://renato38.astronmembers.com.br/ml/abc",
		SupportExpiresAt:   "10/03/2026",
		MentorshipIncluded: true,
	})
	require.NoError(t, err)

	assert.Contains(t, html, "Bem-vindo, Maria!")
	assert.Contains(t, html, "Curso de Bitcoin")
	assert.Contains(t, html, "casa-mesa-cafe-2025")
	assert.Contains(t, html, `href="https://renato38.astronmembers.com.br/ml/abc"`)
	assert.Contains(t, html, "10/03/2026")
	assert.Contains(t, html, "mentoria")
}

func TestRenderPurchaseConfirmationWithoutOptionalBlocks(t *testing.T) {
	service := newTestService()

	html, err := service.renderTemplate("purchase_confirmation", TemplateData{
		FirstName:   "Maria",
		Email:       "maria@example.com",
		ProductName: "Curso de Bitcoin",
		Password:    "casa-mesa-cafe-2025",
	})
	require.NoError(t, err)

	assert.NotContains(t, html, "suporte direto")
	assert.NotContains(t, html, "mentoria")
	assert.NotContains(t, html, "href=")
}

func TestRenderCredentialsUpdated(t *testing.T) {
	service := newTestService()

	html, err := service.renderTemplate("credentials_updated", TemplateData{
		FirstName: "Maria",
		Password:  "flor-verde-lua-2025",
		LoginURL:  "https://renato38.astronmembers.com.br/login",
	})
	require.NoError(t, err)

	assert.Contains(t, html, "Nova senha gerada")
	assert.Contains(t, html, "flor-verde-lua-2025")
	assert.Contains(t, html, "https://renato38.astronmembers.com.br/login")
}

func TestRenderVerificationReceived(t *testing.T) {
	service := newTestService()

	html, err := service.renderTemplate("verification_received", TemplateData{FirstName: "João"})
	require.NoError(t, err)

	assert.Contains(t, html, "Olá, João!")
	assert.Contains(t, html, "Comprovante recebido")
	assert.Contains(t, html, "fila de aprovação")
}

func TestRenderUnknownTemplate(t *testing.T) {
	service := newTestService()

	_, err := service.renderTemplate("does_not_exist", TemplateData{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestFirstName(t *testing.T) {
	assert.Equal(t, "Maria", firstName("Maria Silva Santos"))
	assert.Equal(t, "Maria", firstName("Maria"))
	assert.Equal(t, "", firstName(""))
	assert.Equal(t, "João", firstName("  João  Pedro "))
}
