// Package prompt assembles the messages sent to the language models.
package prompt

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/xaenox/agency-assistant/internal/models"
)

const systemTemplate = `Você é {{.AssistantName}}, assistente de marketing da {{.Agency}}.
{{- if .Business}}
Você atende o cliente {{if .ClientName}}{{.ClientName}}, {{end}}cujo negócio é: {{.Business}}.
{{- else if .ClientName}}
Você atende o cliente {{.ClientName}}.
{{- end}}
Fale sempre em português do Brasil, com tom {{.Tone}}.
{{- if .UseEmojis}}
Use emojis com moderação para deixar a conversa leve.
{{- else}}
Não use emojis.
{{- end}}
Ajude com conteúdo para redes sociais, legendas, ideias de stories, campanhas e estratégia.
Quando o cliente pedir uma imagem, diga que ele pode pedir com "gere uma imagem de ...".
{{- if .Instructions}}

Instruções adicionais:
{{.Instructions}}
{{- end}}`

var systemTmpl = template.Must(template.New("system").Parse(systemTemplate))

// Builder renders system prompts for clients, merging each client's
// personality over the agency defaults.
type Builder struct {
	agency   string
	defaults models.Personality
}

func NewBuilder(agency string, defaults models.Personality) *Builder {
	return &Builder{agency: agency, defaults: defaults}
}

func (b *Builder) Personality(client *models.Client) models.Personality {
	if client == nil {
		return b.defaults
	}
	return client.Personality.Merge(b.defaults)
}

func (b *Builder) SystemPrompt(client *models.Client) string {
	p := b.Personality(client)
	data := struct {
		models.Personality
		Agency     string
		ClientName string
		Business   string
	}{
		Personality: p,
		Agency:      b.agency,
	}
	if client != nil {
		data.ClientName = client.Name
		data.Business = client.Business
	}

	var buf bytes.Buffer
	if err := systemTmpl.Execute(&buf, data); err != nil {
		// The template is fixed; this only happens on programmer error.
		return "Você é " + p.AssistantName + ", assistente de marketing da " + b.agency + "."
	}
	return strings.TrimSpace(buf.String())
}
